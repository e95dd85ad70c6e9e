// Package contract checks chronology drafts against the formatting and
// content contract. Validation is pure and reports every violation found.
package contract

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/consolidation"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
)

var (
	birthLinePattern  = regexp.MustCompile(`^Date of Birth: [A-Z][a-z]+ \d{1,2}, \d{4}$`)
	injuryLinePattern = regexp.MustCompile(`^Date of Injury: [A-Z][a-z]+ \d{1,2}, \d{4}$`)
)

type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	if cfg.TonePhrases == nil {
		cfg.TonePhrases = DefaultTonePhrases
	}
	if cfg.ImagingForbidden == nil {
		cfg.ImagingForbidden = DefaultImagingForbidden
	}
	return &Validator{cfg: cfg}
}

func (v *Validator) Config() Config {
	return v.cfg
}

type collector struct {
	cfg        Config
	violations []domain.Violation
}

func (c *collector) add(rule string, entry int, msg string, args ...any) {
	sev := c.cfg.SeverityOf(rule)
	if sev == SeverityOff {
		return
	}
	c.violations = append(c.violations, domain.Violation{
		RuleID:     rule,
		EntryIndex: entry,
		Message:    fmt.Sprintf(msg, args...),
		Severity:   sev,
	})
}

func (c *collector) report() domain.ViolationReport {
	rank := make(map[string]int, len(RuleOrder))
	for i, rule := range RuleOrder {
		rank[rule] = i
	}
	sort.SliceStable(c.violations, func(i, j int) bool {
		a, b := c.violations[i], c.violations[j]
		if a.EntryIndex != b.EntryIndex {
			return a.EntryIndex < b.EntryIndex
		}
		return rank[a.RuleID] < rank[b.RuleID]
	})
	return domain.ViolationReport{Violations: c.violations}
}

// Validate checks a chronology set against every enabled rule.
func (v *Validator) Validate(set *domain.ChronologySet, docs []domain.RecognizedDocument) domain.ViolationReport {
	c := &collector{cfg: v.cfg}
	if set == nil {
		c.add(RuleEntryModel, domain.GlobalEntry, "chronology set is missing")
		return c.report()
	}

	v.checkMetadata(c, set.Metadata)
	for i, entry := range set.Entries {
		v.checkGrammar(c, i, entry)
		for _, msg := range bannedConstructs(entry.Summary) {
			c.add(RuleBannedConstruct, i, "%s", msg)
		}
		for _, msg := range tonePhrases(entry.Summary, v.cfg.TonePhrases) {
			c.add(RuleTone, i, "%s", msg)
		}
		if entry.Kind == domain.KindImaging {
			v.checkImaging(c, i, entry)
		}
	}
	v.checkTherapy(c, set.Entries, docs)
	v.checkTraceability(c, set.Entries, docs)

	index := domain.IngestionIndex(docs)
	for i := 1; i < len(set.Entries); i++ {
		prev, cur := set.Entries[i-1], set.Entries[i]
		switch {
		case cur.Date.Before(prev.Date):
			c.add(RuleOrdering, i, "entry dated %s follows entry dated %s", format.HeadingDate(cur.Date), format.HeadingDate(prev.Date))
		case cur.Date.Equal(prev.Date) && domain.IngestionOrder(cur, index) < domain.IngestionOrder(prev, index):
			c.add(RuleOrdering, i, "entries dated %s are not in document ingestion order", format.HeadingDate(cur.Date))
		}
	}
	return c.report()
}

// ValidateNarrative checks a rendered narrative document. Rules that need
// entry kinds or sources are evaluated only where the text carries them.
func (v *Validator) ValidateNarrative(text string) domain.ViolationReport {
	c := &collector{cfg: v.cfg}
	narrative := format.ParseNarrative(text)
	v.checkHeaderLines(c, narrative.Header)

	var prev time.Time
	for i, block := range narrative.Blocks {
		heading, err := format.ParseHeading(block.Heading)
		if err != nil {
			c.add(RuleEntryGrammar, i, "line %d: %v", block.Line, err)
		} else {
			if !prev.IsZero() && heading.Date.Before(prev) {
				c.add(RuleOrdering, i, "entry dated %s follows entry dated %s", format.HeadingDate(heading.Date), format.HeadingDate(prev))
			}
			prev = heading.Date
		}
		if strings.TrimSpace(block.Summary) == "" {
			c.add(RuleEntryModel, i, "line %d: entry has no summary paragraph", block.Line)
		}
		for _, msg := range bannedConstructs(block.Summary) {
			c.add(RuleBannedConstruct, i, "%s", msg)
		}
		for _, msg := range tonePhrases(block.Summary, v.cfg.TonePhrases) {
			c.add(RuleTone, i, "%s", msg)
		}
		if strings.HasPrefix(strings.TrimSpace(block.Summary), "Impression:") {
			v.checkImaging(c, i, domain.Entry{Summary: block.Summary})
		}
	}
	return c.report()
}

func (v *Validator) checkMetadata(c *collector, m domain.Metadata) {
	if strings.TrimSpace(m.PatientName) == "" {
		c.add(RuleHeader, domain.GlobalEntry, "header is missing the patient name")
	}
	if m.DateOfBirth.IsZero() {
		c.add(RuleHeader, domain.GlobalEntry, "header is missing the date of birth")
	}
	if m.DateOfInjury.IsZero() {
		c.add(RuleHeader, domain.GlobalEntry, "header is missing the date of injury")
	}
}

func (v *Validator) checkHeaderLines(c *collector, lines []string) {
	checks := []struct {
		name string
		ok   func(string) bool
	}{
		{"title " + domain.NarrativeTitle, func(s string) bool { return s == domain.NarrativeTitle }},
		{"upper-case patient name", func(s string) bool {
			return s != "" && s == strings.ToUpper(s) && s != domain.NarrativeTitle && !strings.HasPrefix(s, "DATE OF")
		}},
		{"Date of Birth: <Month D, YYYY>", birthLinePattern.MatchString},
		{"Date of Injury: <Month D, YYYY>", injuryLinePattern.MatchString},
	}
	for i, check := range checks {
		if i >= len(lines) {
			c.add(RuleHeader, domain.GlobalEntry, "header line %d missing: expected %s", i+1, check.name)
			continue
		}
		if !check.ok(lines[i]) {
			c.add(RuleHeader, domain.GlobalEntry, "header line %d: expected %s, got %q", i+1, check.name, lines[i])
		}
	}
	if len(lines) > len(checks) {
		c.add(RuleHeader, domain.GlobalEntry, "unexpected text before the first entry: %q", lines[len(checks)])
	}
}

func (v *Validator) checkGrammar(c *collector, i int, e domain.Entry) {
	if e.Date.IsZero() {
		c.add(RuleEntryGrammar, i, "entry date is missing")
		return
	}
	if strings.TrimSpace(e.VisitType) == "" {
		c.add(RuleEntryGrammar, i, "visit type is missing")
	}
	if e.Provider.Name() == "" && strings.TrimSpace(e.Provider.Credentials) != "" {
		c.add(RuleEntryGrammar, i, "credentials %q given without a provider name", e.Provider.Credentials)
	}
	for _, field := range [][2]string{{"facility", e.Facility}, {"provider", e.Provider.Name()}, {"visit type", e.VisitType}} {
		if strings.ContainsAny(field[1], "\r\n") {
			c.add(RuleEntryGrammar, i, "%s must fit on the heading line", field[0])
		}
	}

	line := format.RenderHeading(e)
	heading, err := format.ParseHeading(line)
	if err != nil {
		c.add(RuleEntryGrammar, i, "heading %q: %v", line, err)
		return
	}
	if strings.TrimSpace(e.VisitType) != "" && heading.VisitType != strings.TrimRight(strings.Join(strings.Fields(e.VisitType), " "), ". ") {
		c.add(RuleEntryGrammar, i, "heading %q does not separate its segments unambiguously", line)
	}
}

func (v *Validator) checkImaging(c *collector, i int, e domain.Entry) {
	summary := strings.TrimSpace(e.Summary)
	if !strings.HasPrefix(summary, "Impression:") {
		c.add(RuleImaging, i, "imaging summary must begin with \"Impression:\"")
	}
	for _, heading := range v.cfg.ImagingForbidden {
		if strings.Contains(summary, heading) {
			c.add(RuleImaging, i, "imaging summary contains %q", heading)
		}
	}
}

func (v *Validator) checkTraceability(c *collector, entries []domain.Entry, docs []domain.RecognizedDocument) {
	byID := domain.DocumentByID(docs)
	for i, e := range entries {
		sources := e.Sources()
		if len(sources) == 0 {
			c.add(RuleTraceability, i, "entry has no source document")
			continue
		}
		if strings.TrimSpace(e.SourceDocumentID) == "" {
			c.add(RuleTraceability, i, "entry has no primary source document")
		}
		for _, id := range sources {
			doc, ok := byID[id]
			switch {
			case !ok:
				c.add(RuleTraceability, i, "source document %q does not exist", id)
			case !doc.Processable:
				c.add(RuleTraceability, i, "source document %q is not processable", id)
			}
		}
	}
}

func (v *Validator) checkTherapy(c *collector, entries []domain.Entry, docs []domain.RecognizedDocument) {
	byID := domain.DocumentByID(docs)
	lapse := v.cfg.TherapyMaxLapse

	for _, part := range consolidation.Partition(entries) {
		followers := part.Positions[1:]
		if first := part.Positions[0]; entries[first].Consolidated {
			followers = part.Positions
		}

		var dates []time.Time
		for _, pos := range followers {
			dates = append(dates, serviceDates(entries[pos])...)
		}
		slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
		dates = slices.CompactFunc(dates, func(a, b time.Time) bool { return a.Equal(b) })

		for _, run := range consolidation.SplitRuns(dates, lapse) {
			var owners []int
			for _, pos := range followers {
				if overlaps(serviceDates(entries[pos]), run) {
					owners = append(owners, pos)
				}
			}
			if len(owners) > 1 {
				for _, pos := range owners[1:] {
					c.add(RuleTherapyConsolidation, pos,
						"therapy visits %s through %s form one block but produced %d entries; merge them into one entry dated %s",
						format.HeadingDate(run[0]), format.HeadingDate(run[len(run)-1]), len(owners), format.HeadingDate(run[len(run)-1]))
				}
			}
		}

		for _, pos := range followers {
			own := serviceDates(entries[pos])
			if len(consolidation.SplitRuns(own, lapse)) > 1 {
				c.add(RuleTherapyConsolidation, pos, "entry spans separate courses of therapy divided by a lapse over %d days", int(lapse.Hours()/24))
			}
		}
	}

	for i, e := range entries {
		if e.Kind != domain.KindTherapy || (!e.Consolidated && len(e.ServiceDates) <= 1) {
			continue
		}
		v.checkConsolidatedEntry(c, i, e, byID)
	}
}

func (v *Validator) checkConsolidatedEntry(c *collector, i int, e domain.Entry, byID map[string]domain.RecognizedDocument) {
	dates := serviceDates(e)
	last := dates[len(dates)-1]
	if !e.Date.Equal(last) {
		c.add(RuleTherapyConsolidation, i, "consolidated entry is dated %s but its final visit is %s", format.HeadingDate(e.Date), format.HeadingDate(last))
	}
	for _, d := range dates {
		if !strings.Contains(e.Summary, format.HeadingDate(d)) {
			c.add(RuleTherapyConsolidation, i, "summary does not list service date %s", format.HeadingDate(d))
		}
		found := false
		for _, id := range e.Sources() {
			if doc, ok := byID[id]; ok && format.TextMentionsDate(doc.Text, d) {
				found = true
				break
			}
		}
		if !found {
			c.add(RuleTherapyConsolidation, i, "service date %s does not appear in any source document", format.HeadingDate(d))
		}
	}
}

func serviceDates(e domain.Entry) []time.Time {
	if len(e.ServiceDates) == 0 {
		return []time.Time{e.Date}
	}
	return e.ServiceDates
}

func overlaps(dates, run []time.Time) bool {
	for _, d := range dates {
		for _, r := range run {
			if d.Equal(r) {
				return true
			}
		}
	}
	return false
}
