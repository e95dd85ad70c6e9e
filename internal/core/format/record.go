package format

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

type RecordMetadata struct {
	PatientName   string `json:"patient_name"`
	DateOfBirth   string `json:"date_of_birth"`
	DateOfInjury  string `json:"date_of_injury"`
	GeneratedAt   string `json:"generated_at,omitempty"`
	DocumentCount int    `json:"document_count"`
	EntryCount    int    `json:"entry_count"`
}

type RecordProvider struct {
	First       string `json:"first"`
	Last        string `json:"last"`
	Credentials string `json:"credentials"`
}

type RecordEntry struct {
	Date             string         `json:"date"`
	Facility         string         `json:"facility"`
	Provider         RecordProvider `json:"provider"`
	VisitType        string         `json:"visit_type"`
	Summary          string         `json:"summary"`
	SourceDocumentID string         `json:"source_document_id"`
	EntryKind        string         `json:"entry_kind"`
	ServiceDates     []string       `json:"service_dates,omitempty"`
	MergedSources    []string       `json:"merged_sources,omitempty"`
	Consolidated     bool           `json:"consolidated,omitempty"`
}

// Record is the structured persisted form of a chronology set.
type Record struct {
	Metadata RecordMetadata `json:"metadata"`
	Entries  []RecordEntry  `json:"entries"`
}

func BuildRecord(set *domain.ChronologySet, documentCount int, generatedAt time.Time) Record {
	rec := Record{
		Metadata: RecordMetadata{
			PatientName:   set.Metadata.PatientName,
			DateOfBirth:   isoDate(set.Metadata.DateOfBirth),
			DateOfInjury:  isoDate(set.Metadata.DateOfInjury),
			DocumentCount: documentCount,
			EntryCount:    len(set.Entries),
		},
		Entries: make([]RecordEntry, 0, len(set.Entries)),
	}
	if !generatedAt.IsZero() {
		rec.Metadata.GeneratedAt = generatedAt.UTC().Format(time.RFC3339)
	}
	for _, e := range set.Entries {
		re := RecordEntry{
			Date:     isoDate(e.Date),
			Facility: e.Facility,
			Provider: RecordProvider{
				First:       e.Provider.First,
				Last:        e.Provider.Last,
				Credentials: e.Provider.Credentials,
			},
			VisitType:        e.VisitType,
			Summary:          e.Summary,
			SourceDocumentID: e.SourceDocumentID,
			EntryKind:        string(e.Kind),
			MergedSources:    e.MergedSources,
			Consolidated:     e.Consolidated,
		}
		for _, d := range e.ServiceDates {
			re.ServiceDates = append(re.ServiceDates, isoDate(d))
		}
		rec.Entries = append(rec.Entries, re)
	}
	return rec
}

func MarshalRecord(rec Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return append(data, '\n'), nil
}

func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, &domain.MalformedEntryError{Index: -1, Field: "record", Reason: err.Error()}
	}
	return rec, nil
}

// ParseRecord decodes a structured record into a chronology set.
// Entry construction failures surface as *domain.MalformedEntryError with the entry index.
func ParseRecord(data []byte) (*domain.ChronologySet, error) {
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	return rec.ChronologySet()
}

func (r Record) ChronologySet() (*domain.ChronologySet, error) {
	meta, err := r.Metadata.domain()
	if err != nil {
		return nil, err
	}
	set := &domain.ChronologySet{Metadata: meta, Entries: make([]domain.Entry, 0, len(r.Entries))}
	for i, re := range r.Entries {
		entry, err := re.entry()
		if err != nil {
			if malformed, ok := domain.AsMalformed(err); ok {
				malformed.Index = i
				return nil, malformed
			}
			return nil, err
		}
		set.Entries = append(set.Entries, entry)
	}
	return set, nil
}

func (m RecordMetadata) domain() (domain.Metadata, error) {
	dob, err := ParseDate(m.DateOfBirth)
	if err != nil {
		return domain.Metadata{}, &domain.MalformedEntryError{Index: -1, Field: "date_of_birth", Reason: err.Error()}
	}
	doi, err := ParseDate(m.DateOfInjury)
	if err != nil {
		return domain.Metadata{}, &domain.MalformedEntryError{Index: -1, Field: "date_of_injury", Reason: err.Error()}
	}
	return domain.Metadata{PatientName: strings.TrimSpace(m.PatientName), DateOfBirth: dob, DateOfInjury: doi}, nil
}

func (re RecordEntry) entry() (domain.Entry, error) {
	date, err := ParseDate(re.Date)
	if err != nil {
		return domain.Entry{}, &domain.MalformedEntryError{Index: -1, Field: "date", Reason: err.Error()}
	}
	serviceDates := make([]time.Time, 0, len(re.ServiceDates))
	for _, raw := range re.ServiceDates {
		d, err := ParseDate(raw)
		if err != nil {
			return domain.Entry{}, &domain.MalformedEntryError{Index: -1, Field: "service_dates", Reason: err.Error()}
		}
		serviceDates = append(serviceDates, d)
	}
	return domain.NewEntry(domain.Entry{
		Date:     date,
		Facility: re.Facility,
		Provider: domain.Provider{
			First:       re.Provider.First,
			Last:        re.Provider.Last,
			Credentials: re.Provider.Credentials,
		},
		VisitType:        re.VisitType,
		Kind:             domain.EntryKind(re.EntryKind),
		Summary:          re.Summary,
		SourceDocumentID: re.SourceDocumentID,
		ServiceDates:     serviceDates,
		MergedSources:    re.MergedSources,
		Consolidated:     re.Consolidated,
	})
}

func isoDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.ISODateLayout)
}
