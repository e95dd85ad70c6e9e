package contract

import (
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/consolidation"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testMetadata() domain.Metadata {
	return domain.Metadata{
		PatientName:  "John Doe",
		DateOfBirth:  day(1980, time.May, 2),
		DateOfInjury: day(2023, time.October, 30),
	}
}

func testDocs() []domain.RecognizedDocument {
	return []domain.RecognizedDocument{
		{ID: "doc-001", Processable: true, Order: 0, Text: "Emergency visit 11/01/2023"},
		{ID: "doc-002", Processable: true, Order: 1, Text: "MRI 11/09/2023"},
		{ID: "doc-003", Processable: false, Order: 2},
	}
}

func entry(t *testing.T, e domain.Entry) domain.Entry {
	t.Helper()
	out, err := domain.NewEntry(e)
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	return out
}

func standardEntry(t *testing.T, date time.Time, source, summary string) domain.Entry {
	return entry(t, domain.Entry{
		Date: date, Facility: "General Hospital", Provider: domain.Provider{First: "Ann", Last: "Lee", Credentials: "MD"},
		VisitType: "Office Visit", Kind: domain.KindStandard, Summary: summary, SourceDocumentID: source,
	})
}

func violationsOf(report domain.ViolationReport, rule string) []domain.Violation {
	var out []domain.Violation
	for _, v := range report.Violations {
		if v.RuleID == rule {
			out = append(out, v)
		}
	}
	return out
}

func TestValidateAcceptsConformingSet(t *testing.T) {
	set := &domain.ChronologySet{
		Metadata: testMetadata(),
		Entries: []domain.Entry{
			standardEntry(t, day(2023, time.November, 1), "doc-001", "Chief Complaint: neck pain. Plan: rest."),
			entry(t, domain.Entry{Date: day(2023, time.November, 9), Facility: "City Imaging", VisitType: "MRI Cervical Spine",
				Kind: domain.KindImaging, Summary: "Impression: disc bulge at C5-C6.", SourceDocumentID: "doc-002"}),
		},
	}

	report := NewValidator(DefaultConfig()).Validate(set, testDocs())
	if len(report.Violations) != 0 {
		t.Fatalf("expected no violations, got %v", report.Violations)
	}
}

func TestBannedConstructRejectsAndAcceptsPair(t *testing.T) {
	v := NewValidator(DefaultConfig())
	dirty := "**Assessment:** strain.\n- Plan: rest.\nPATIENT IS DOING VERY WELL today."
	clean := "Assessment: strain. Plan: rest. Patient is doing very well today."

	bad := &domain.ChronologySet{Metadata: testMetadata(), Entries: []domain.Entry{standardEntry(t, day(2023, time.November, 1), "doc-001", dirty)}}
	got := violationsOf(v.Validate(bad, testDocs()), RuleBannedConstruct)
	if len(got) != 3 {
		t.Fatalf("expected 3 banned-construct violations, got %d: %v", len(got), got)
	}
	for _, viol := range got {
		if viol.Severity != domain.SeverityBlocking || viol.EntryIndex != 0 {
			t.Fatalf("unexpected violation %+v", viol)
		}
	}

	good := &domain.ChronologySet{Metadata: testMetadata(), Entries: []domain.Entry{standardEntry(t, day(2023, time.November, 1), "doc-001", clean)}}
	if got := violationsOf(v.Validate(good, testDocs()), RuleBannedConstruct); len(got) != 0 {
		t.Fatalf("expected clean summary to pass, got %v", got)
	}
}

func TestBannedConstructCitations(t *testing.T) {
	for _, summary := range []string{"Plan: rest (page 4).", "Plan: rest, see p. 12.", "Plan: rest [3].", "Plan: rest, Bates 00012.", "Para one.\n\nPara two."} {
		if len(bannedConstructs(summary)) == 0 {
			t.Fatalf("expected %q to be rejected", summary)
		}
	}
	for _, summary := range []string{"Reflexes 2+ bilaterally.", "MRI C5-C6 shows bulge.", "Pain 6/10 at 3 p.m."} {
		if got := bannedConstructs(summary); len(got) != 0 {
			t.Fatalf("expected %q to pass, got %v", summary, got)
		}
	}
}

func TestImagingRule(t *testing.T) {
	set := &domain.ChronologySet{
		Metadata: testMetadata(),
		Entries: []domain.Entry{
			entry(t, domain.Entry{Date: day(2023, time.November, 9), Facility: "City Imaging", VisitType: "MRI",
				Kind: domain.KindImaging, Summary: "Technique: sagittal. Findings: bulge. Impression: disc bulge.", SourceDocumentID: "doc-002"}),
		},
	}
	got := violationsOf(NewValidator(DefaultConfig()).Validate(set, testDocs()), RuleImaging)
	if len(got) != 3 {
		t.Fatalf("expected prefix + two heading violations, got %v", got)
	}
}

func TestHeaderRuleOnMissingMetadata(t *testing.T) {
	set := &domain.ChronologySet{
		Metadata: domain.Metadata{DateOfBirth: day(1980, time.May, 2), DateOfInjury: day(2023, time.October, 30)},
		Entries:  []domain.Entry{standardEntry(t, day(2023, time.November, 1), "doc-001", "Plan: rest.")},
	}
	report := NewValidator(DefaultConfig()).Validate(set, testDocs())
	got := violationsOf(report, RuleHeader)
	if len(got) != 1 || got[0].EntryIndex != domain.GlobalEntry {
		t.Fatalf("expected one global header violation, got %v", got)
	}
	if report.Violations[0].RuleID != RuleHeader {
		t.Fatalf("expected global violations first, got %v", report.Violations)
	}
}

func TestValidateNarrativeReorderedHeader(t *testing.T) {
	text := "JOHN DOE\nMEDICAL RECORDS SUMMARY\nDate of Birth: May 2, 1980\nDate of Injury: October 30, 2023\n\n" +
		"11/01/2023. General Hospital. Ann Lee, MD. Office Visit.\nPlan: rest.\n"
	got := violationsOf(NewValidator(DefaultConfig()).ValidateNarrative(text), RuleHeader)
	if len(got) != 2 {
		t.Fatalf("expected title and name lines flagged, got %v", got)
	}
}

func TestValidateNarrativeGrammar(t *testing.T) {
	text := "MEDICAL RECORDS SUMMARY\nJOHN DOE\nDate of Birth: May 2, 1980\nDate of Injury: October 30, 2023\n\n" +
		"2023-11-01. General Hospital. Office Visit.\nPlan: rest.\n\n" +
		"11/02/2023. General Hospital. Office Visit\nPlan: rest.\n\n" +
		"11/03/2023. General Hospital. Ann Lee, MD. Office Visit.\nPlan: rest.\n"
	report := NewValidator(DefaultConfig()).ValidateNarrative(text)
	got := violationsOf(report, RuleEntryGrammar)
	if len(got) != 2 || got[0].EntryIndex != 0 || got[1].EntryIndex != 1 {
		t.Fatalf("expected grammar violations on the first two entries, got %v", got)
	}
	if len(violationsOf(report, RuleHeader)) != 0 {
		t.Fatalf("unexpected header violations: %v", report.Violations)
	}
}

func TestGrammarRequiresVisitType(t *testing.T) {
	e := standardEntry(t, day(2023, time.November, 1), "doc-001", "Plan: rest.")
	e.VisitType = ""
	set := &domain.ChronologySet{Metadata: testMetadata(), Entries: []domain.Entry{e}}
	got := violationsOf(NewValidator(DefaultConfig()).Validate(set, testDocs()), RuleEntryGrammar)
	if len(got) == 0 {
		t.Fatal("expected entry-grammar violation for missing visit type")
	}
}

func TestTraceabilityRule(t *testing.T) {
	set := &domain.ChronologySet{
		Metadata: testMetadata(),
		Entries: []domain.Entry{
			standardEntry(t, day(2023, time.November, 1), "doc-003", "Plan: rest."),
			standardEntry(t, day(2023, time.November, 2), "doc-404", "Plan: rest."),
		},
	}
	got := violationsOf(NewValidator(DefaultConfig()).Validate(set, testDocs()), RuleTraceability)
	if len(got) != 2 {
		t.Fatalf("expected unprocessable and missing sources flagged, got %v", got)
	}
}

func TestOrderingRule(t *testing.T) {
	set := &domain.ChronologySet{
		Metadata: testMetadata(),
		Entries: []domain.Entry{
			standardEntry(t, day(2023, time.November, 2), "doc-002", "Plan: rest."),
			standardEntry(t, day(2023, time.November, 2), "doc-001", "Plan: rest."),
			standardEntry(t, day(2023, time.November, 1), "doc-001", "Plan: rest."),
		},
	}
	got := violationsOf(NewValidator(DefaultConfig()).Validate(set, testDocs()), RuleOrdering)
	if len(got) != 2 || got[0].EntryIndex != 1 || got[1].EntryIndex != 2 {
		t.Fatalf("unexpected ordering violations %v", got)
	}
}

func TestToneIsAdvisory(t *testing.T) {
	set := &domain.ChronologySet{
		Metadata: testMetadata(),
		Entries:  []domain.Entry{standardEntry(t, day(2023, time.November, 1), "doc-001", "The patient was seen for neck pain.")},
	}
	report := NewValidator(DefaultConfig()).Validate(set, testDocs())
	if report.HasBlocking() {
		t.Fatalf("tone must not block: %v", report.Violations)
	}
	if len(report.Advisory()) != 1 {
		t.Fatalf("expected one advisory, got %v", report.Violations)
	}
}

func TestSeverityOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Severity = map[string]domain.Severity{RuleTone: domain.SeverityBlocking, RuleImaging: SeverityOff}
	set := &domain.ChronologySet{
		Metadata: testMetadata(),
		Entries: []domain.Entry{
			standardEntry(t, day(2023, time.November, 1), "doc-001", "Patient presented with neck pain."),
			entry(t, domain.Entry{Date: day(2023, time.November, 9), Facility: "City Imaging", VisitType: "MRI",
				Kind: domain.KindImaging, Summary: "Findings: bulge.", SourceDocumentID: "doc-002"}),
		},
	}
	report := NewValidator(cfg).Validate(set, testDocs())
	if len(violationsOf(report, RuleImaging)) != 0 {
		t.Fatalf("imaging rule should be off: %v", report.Violations)
	}
	if !report.HasBlockingRule(RuleTone) {
		t.Fatalf("tone should block: %v", report.Violations)
	}
}

func therapyDocs() []domain.RecognizedDocument {
	dates := []string{"11/14/2023", "11/21/2023", "11/27/2023", "11/30/2023", "12/07/2023", "12/14/2023"}
	docs := make([]domain.RecognizedDocument, len(dates))
	for i, d := range dates {
		docs[i] = domain.RecognizedDocument{ID: "doc-00" + string(rune('1'+i)), Processable: true, Order: i, Text: "Date of service: " + d}
	}
	return docs
}

func therapyEntries(t *testing.T) []domain.Entry {
	dates := []time.Time{
		day(2023, time.November, 14), day(2023, time.November, 21), day(2023, time.November, 27),
		day(2023, time.November, 30), day(2023, time.December, 7), day(2023, time.December, 14),
	}
	out := make([]domain.Entry, len(dates))
	for i, d := range dates {
		out[i] = entry(t, domain.Entry{
			Date: d, Facility: "Spine Chiropractic", Provider: domain.Provider{First: "Jane", Last: "Smith", Credentials: "DC"},
			VisitType: "Chiropractic Treatment", Kind: domain.KindTherapy, Summary: "Plan: continue care.",
			SourceDocumentID: "doc-00" + string(rune('1'+i)),
		})
	}
	return out
}

func TestTherapyRuleFlagsUnmergedFollowUps(t *testing.T) {
	set := &domain.ChronologySet{Metadata: testMetadata(), Entries: therapyEntries(t)}
	got := violationsOf(NewValidator(DefaultConfig()).Validate(set, therapyDocs()), RuleTherapyConsolidation)
	if len(got) != 4 {
		t.Fatalf("expected the 4 extra follow-up entries flagged, got %v", got)
	}
}

func TestTherapyRuleAcceptsConsolidatedSet(t *testing.T) {
	engine := consolidation.NewEngine(consolidation.Config{MaxLapse: consolidation.DefaultMaxLapse})
	set := &domain.ChronologySet{Metadata: testMetadata(), Entries: engine.Consolidate(therapyEntries(t))}
	report := NewValidator(DefaultConfig()).Validate(set, therapyDocs())
	if len(report.Violations) != 0 {
		t.Fatalf("expected consolidated set to pass, got %v", report.Violations)
	}
}

func TestTherapyRuleChecksDatesAgainstSources(t *testing.T) {
	engine := consolidation.NewEngine(consolidation.Config{MaxLapse: consolidation.DefaultMaxLapse})
	entries := engine.Consolidate(therapyEntries(t))
	docs := therapyDocs()
	docs[3].Text = "Date of service: 12/01/2023"

	set := &domain.ChronologySet{Metadata: testMetadata(), Entries: entries}
	got := violationsOf(NewValidator(DefaultConfig()).Validate(set, docs), RuleTherapyConsolidation)
	if len(got) != 1 || !strings.Contains(got[0].Message, "11/30/2023") {
		t.Fatalf("expected the 11/30/2023 date to be unsupported, got %v", got)
	}
}

func TestValidateNarrativeOfRenderedSetPasses(t *testing.T) {
	set := &domain.ChronologySet{
		Metadata: testMetadata(),
		Entries:  []domain.Entry{standardEntry(t, day(2023, time.November, 1), "doc-001", "Plan: rest.")},
	}
	report := NewValidator(DefaultConfig()).ValidateNarrative(format.RenderNarrative(set))
	if len(report.Violations) != 0 {
		t.Fatalf("expected rendered narrative to pass, got %v", report.Violations)
	}
}

func TestDescribeOmitsDisabledRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Severity = map[string]domain.Severity{RuleTone: SeverityOff}
	text := Describe(cfg)
	if strings.Contains(text, "["+RuleTone+"]") {
		t.Fatalf("disabled rule described:\n%s", text)
	}
	if !strings.Contains(text, "A gap of more than 30 days") {
		t.Fatalf("expected lapse in therapy text:\n%s", text)
	}
}
