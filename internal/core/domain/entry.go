package domain

import (
	"slices"
	"sort"
	"strings"
	"time"
)

type EntryKind string

const (
	KindStandard   EntryKind = "standard"
	KindImaging    EntryKind = "imaging"
	KindTherapy    EntryKind = "therapy"
	KindDeposition EntryKind = "deposition"
)

const (
	HeadingDateLayout = "01/02/2006"
	LongDateLayout    = "January 2, 2006"
	ISODateLayout     = "2006-01-02"
)

func ParseEntryKind(raw string) (EntryKind, bool) {
	switch EntryKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindStandard:
		return KindStandard, true
	case KindImaging:
		return KindImaging, true
	case KindTherapy:
		return KindTherapy, true
	case KindDeposition:
		return KindDeposition, true
	default:
		return "", false
	}
}

type Provider struct {
	First       string `json:"first"`
	Last        string `json:"last"`
	Credentials string `json:"credentials"`
}

func (p Provider) Name() string {
	return strings.TrimSpace(strings.TrimSpace(p.First) + " " + strings.TrimSpace(p.Last))
}

func (p Provider) IsZero() bool {
	return p.Name() == "" && strings.TrimSpace(p.Credentials) == ""
}

// Entry is one chronology record. Construct through NewEntry.
type Entry struct {
	Date             time.Time   `json:"date"`
	Facility         string      `json:"facility"`
	Provider         Provider    `json:"provider"`
	VisitType        string      `json:"visit_type"`
	Kind             EntryKind   `json:"entry_kind"`
	Summary          string      `json:"summary"`
	SourceDocumentID string      `json:"source_document_id"`
	ServiceDates     []time.Time `json:"service_dates"`
	// MergedSources lists source documents absorbed by a consolidated entry
	// besides SourceDocumentID.
	MergedSources []string `json:"merged_sources,omitempty"`
	Consolidated  bool     `json:"consolidated,omitempty"`
}

// NewEntry validates e and returns a normalized copy.
func NewEntry(e Entry) (Entry, error) {
	if e.Date.IsZero() {
		return Entry{}, &MalformedEntryError{Index: -1, Field: "date", Reason: "date is required"}
	}
	kind, ok := ParseEntryKind(string(e.Kind))
	if !ok {
		return Entry{}, &MalformedEntryError{Index: -1, Field: "entry_kind", Reason: "unrecognized kind " + quote(string(e.Kind))}
	}
	summary := strings.TrimSpace(e.Summary)
	if summary == "" {
		return Entry{}, &MalformedEntryError{Index: -1, Field: "summary", Reason: "summary is empty"}
	}

	out := e
	out.Kind = kind
	out.Summary = summary
	out.Date = Day(e.Date)
	out.Facility = strings.TrimSpace(e.Facility)
	out.VisitType = strings.TrimSpace(e.VisitType)
	out.SourceDocumentID = strings.TrimSpace(e.SourceDocumentID)
	out.Provider = Provider{
		First:       strings.TrimSpace(e.Provider.First),
		Last:        strings.TrimSpace(e.Provider.Last),
		Credentials: strings.TrimSpace(e.Provider.Credentials),
	}
	out.ServiceDates = normalizeDates(e.ServiceDates)
	if len(out.ServiceDates) == 0 {
		out.ServiceDates = []time.Time{out.Date}
	}
	if last := out.ServiceDates[len(out.ServiceDates)-1]; !last.Equal(out.Date) {
		return Entry{}, &MalformedEntryError{
			Index:  -1,
			Field:  "service_dates",
			Reason: "latest service date " + last.Format(ISODateLayout) + " differs from entry date " + out.Date.Format(ISODateLayout),
		}
	}
	if kind != KindTherapy && len(out.ServiceDates) > 1 {
		return Entry{}, &MalformedEntryError{Index: -1, Field: "service_dates", Reason: "only therapy entries may list several service dates"}
	}
	if len(e.MergedSources) > 0 {
		out.MergedSources = slices.Clone(e.MergedSources)
	}
	return out, nil
}

// Sources returns the primary source followed by absorbed sources.
func (e Entry) Sources() []string {
	out := make([]string, 0, 1+len(e.MergedSources))
	if e.SourceDocumentID != "" {
		out = append(out, e.SourceDocumentID)
	}
	for _, id := range e.MergedSources {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (e Entry) Equal(other Entry) bool {
	if !e.Date.Equal(other.Date) ||
		e.Facility != other.Facility ||
		e.Provider != other.Provider ||
		e.VisitType != other.VisitType ||
		e.Kind != other.Kind ||
		e.Summary != other.Summary ||
		e.SourceDocumentID != other.SourceDocumentID ||
		e.Consolidated != other.Consolidated {
		return false
	}
	if !slices.Equal(e.MergedSources, other.MergedSources) {
		return false
	}
	return slices.EqualFunc(e.ServiceDates, other.ServiceDates, func(a, b time.Time) bool { return a.Equal(b) })
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	out := e
	out.ServiceDates = slices.Clone(e.ServiceDates)
	out.MergedSources = slices.Clone(e.MergedSources)
	return out
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalizeDates(in []time.Time) []time.Time {
	if len(in) == 0 {
		return nil
	}
	out := make([]time.Time, 0, len(in))
	for _, t := range in {
		if t.IsZero() {
			continue
		}
		out = append(out, Day(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return slices.CompactFunc(out, func(a, b time.Time) bool { return a.Equal(b) })
}

func quote(s string) string {
	return "\"" + s + "\""
}
