package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

const NarrativeTitle = "MEDICAL RECORDS SUMMARY"

type Metadata struct {
	PatientName  string    `json:"patient_name"`
	DateOfBirth  time.Time `json:"date_of_birth"`
	DateOfInjury time.Time `json:"date_of_injury"`
}

// Merge fills empty fields of m from fallback.
func (m Metadata) Merge(fallback Metadata) Metadata {
	out := m
	if strings.TrimSpace(out.PatientName) == "" {
		out.PatientName = fallback.PatientName
	}
	if out.DateOfBirth.IsZero() {
		out.DateOfBirth = fallback.DateOfBirth
	}
	if out.DateOfInjury.IsZero() {
		out.DateOfInjury = fallback.DateOfInjury
	}
	return out
}

// ChronologySet is the ordered chronology of one patient.
type ChronologySet struct {
	Metadata Metadata `json:"metadata"`
	Entries  []Entry  `json:"entries"`
}

func (s *ChronologySet) Clone() *ChronologySet {
	if s == nil {
		return nil
	}
	out := &ChronologySet{Metadata: s.Metadata, Entries: make([]Entry, len(s.Entries))}
	for i, entry := range s.Entries {
		out.Entries[i] = entry.Clone()
	}
	return out
}

// IngestionIndex maps document ids to their ingestion position.
func IngestionIndex(docs []RecognizedDocument) map[string]int {
	index := make(map[string]int, len(docs))
	for i, doc := range docs {
		order := doc.Order
		if order < 0 {
			order = i
		}
		index[doc.ID] = order
	}
	return index
}

// IngestionOrder returns the ingestion position of the entry source;
// unknown sources sort last.
func IngestionOrder(entry Entry, index map[string]int) int {
	order, ok := index[entry.SourceDocumentID]
	if !ok {
		return math.MaxInt
	}
	return order
}

// SortEntries sorts by date ascending, ties broken by ingestion order, stable otherwise.
func SortEntries(entries []Entry, index map[string]int) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return IngestionOrder(entries[i], index) < IngestionOrder(entries[j], index)
	})
}

// EntriesSorted reports the first position violating the ordering invariant, or -1.
func EntriesSorted(entries []Entry, index map[string]int) int {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if cur.Date.Before(prev.Date) {
			return i
		}
		if cur.Date.Equal(prev.Date) && IngestionOrder(cur, index) < IngestionOrder(prev, index) {
			return i
		}
	}
	return -1
}
