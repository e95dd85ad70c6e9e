package format

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

var impressionPattern = regexp.MustCompile(`(?i)impression:\s*(.+)`)

type facilityVisits struct {
	name   string
	visits int
	first  string
	last   string
}

// RenderExecutiveSummary summarizes validated entries only.
func RenderExecutiveSummary(set *domain.ChronologySet, docs []domain.RecognizedDocument) string {
	var b strings.Builder
	b.WriteString("# Executive Summary\n\n")
	fmt.Fprintf(&b, "Patient: %s\n", orUnknown(set.Metadata.PatientName))
	fmt.Fprintf(&b, "Date of Birth: %s\n", orUnknown(LongDate(set.Metadata.DateOfBirth)))
	fmt.Fprintf(&b, "Date of Injury: %s\n\n", orUnknown(LongDate(set.Metadata.DateOfInjury)))

	processable := 0
	for _, doc := range docs {
		if doc.Processable {
			processable++
		}
	}
	fmt.Fprintf(&b, "Records reviewed: %d documents (%d processable), %d chronology entries.\n", len(docs), processable, len(set.Entries))
	if len(set.Entries) == 0 {
		b.WriteString("No validated entries were produced.\n")
		return b.String()
	}
	first, last := set.Entries[0], set.Entries[len(set.Entries)-1]
	fmt.Fprintf(&b, "Treatment period: %s through %s.\n", LongDate(first.Date), LongDate(last.Date))

	b.WriteString("\n## Visits by facility\n\n")
	for _, fv := range visitsByFacility(set.Entries) {
		fmt.Fprintf(&b, "%s: %d visit(s), %s through %s.\n", fv.name, fv.visits, fv.first, fv.last)
	}

	var impressions []string
	for _, e := range set.Entries {
		if e.Kind != domain.KindImaging {
			continue
		}
		text := e.Summary
		if m := impressionPattern.FindStringSubmatch(e.Summary); m != nil {
			text = strings.TrimSpace(m[1])
		}
		impressions = append(impressions, fmt.Sprintf("%s %s: %s", HeadingDate(e.Date), e.VisitType, text))
	}
	if len(impressions) > 0 {
		b.WriteString("\n## Imaging impressions\n\n")
		for _, line := range impressions {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func visitsByFacility(entries []domain.Entry) []facilityVisits {
	index := make(map[string]*facilityVisits)
	var order []string
	for _, e := range entries {
		name := strings.TrimSpace(e.Facility)
		if name == "" {
			name = "Unspecified facility"
		}
		fv, ok := index[name]
		if !ok {
			start := e.Date
			if len(e.ServiceDates) > 0 {
				start = e.ServiceDates[0]
			}
			fv = &facilityVisits{name: name, first: HeadingDate(start)}
			index[name] = fv
			order = append(order, name)
		}
		fv.visits += max(len(e.ServiceDates), 1)
		fv.last = HeadingDate(e.Date)
	}
	out := make([]facilityVisits, 0, len(order))
	for _, name := range order {
		out = append(out, *index[name])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].visits > out[j].visits })
	return out
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
