package contract

import (
	"fmt"
	"strings"
)

// Describe renders the contract as generator instructions. Disabled rules are omitted.
func Describe(cfg Config) string {
	phrases := cfg.TonePhrases
	if phrases == nil {
		phrases = DefaultTonePhrases
	}
	forbidden := cfg.ImagingForbidden
	if forbidden == nil {
		forbidden = DefaultImagingForbidden
	}

	sections := []struct {
		rule string
		text string
	}{
		{RuleHeader, "The chronology starts with four header lines: MEDICAL RECORDS SUMMARY, the patient name in upper case, \"Date of Birth: Month D, YYYY\" and \"Date of Injury: Month D, YYYY\". Always fill patient_name, date_of_birth and date_of_injury in the metadata."},
		{RuleEntryGrammar, "Each entry heading reads \"MM/DD/YYYY. Facility. First Last, Credentials. Visit Type.\" Leave the provider empty only when the source names none. Every entry needs a visit type."},
		{RuleBannedConstruct, "Summaries are one plain paragraph: no bold or italic markup, no bullets or numbered lists, no runs of four or more upper-case words, no page or reference citations such as \"page 4\", \"p. 4\", \"[12]\" or Bates numbers."},
		{RuleTone, fmt.Sprintf("Use direct in-paragraph headings (\"Chief Complaint: ...\", \"Assessment: ...\", \"Plan: ...\") instead of narrative connectives such as %s.", quoteList(phrases))},
		{RuleImaging, fmt.Sprintf("Imaging entries (entry_kind imaging) contain only \"Impression:\" followed by the impression text. Never include %s.", quoteList(forbidden))},
		{RuleTherapyConsolidation, therapyText(cfg)},
		{RuleTraceability, "Every entry sets source_document_id to the id of the document it was taken from. Never invent entries that no document supports."},
		{RuleOrdering, "Order entries by date ascending; entries on the same date follow document order."},
	}

	var b strings.Builder
	b.WriteString("Chronology contract:\n")
	n := 0
	for _, s := range sections {
		if cfg.SeverityOf(s.rule) == SeverityOff {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. [%s] %s\n", n, s.rule, s.text)
	}
	return b.String()
}

func therapyText(cfg Config) string {
	text := "For therapy visits with the same facility and provider, keep the initial evaluation as its own entry and report each contiguous block of follow-up visits as a single entry dated on the final visit, listing every date of service as MM/DD/YYYY."
	if cfg.TherapyMaxLapse > 0 {
		text += fmt.Sprintf(" A gap of more than %d days between visits starts a new block.", int(cfg.TherapyMaxLapse.Hours()/24))
	}
	return text
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return strings.Join(quoted, ", ")
}
