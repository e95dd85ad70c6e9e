// Package consolidation merges runs of routine therapy follow-up visits into
// single chronology entries.
package consolidation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
)

// DefaultMaxLapse is the largest gap between follow-up visits that keeps them in one run.
const DefaultMaxLapse = 30 * 24 * time.Hour

type Config struct {
	// MaxLapse splits runs on larger gaps. Zero means no cap.
	MaxLapse time.Duration
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.MaxLapse < 0 {
		cfg.MaxLapse = 0
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) MaxLapse() time.Duration {
	return e.cfg.MaxLapse
}

// Consolidate returns a new slice; input entries are not modified.
// Non-therapy and already consolidated entries pass through, as does a
// follow-up visit that forms a run on its own.
func (e *Engine) Consolidate(entries []domain.Entry) []domain.Entry {
	replace := make(map[int]domain.Entry)
	drop := make(map[int]bool)

	for _, part := range Partition(entries) {
		followers := part.Positions[1:]
		var drafts []int
		for _, pos := range followers {
			if !entries[pos].Consolidated {
				drafts = append(drafts, pos)
			}
		}
		for _, run := range e.draftRuns(entries, drafts) {
			if len(run) == 1 && len(serviceDates(entries[run[0]])) == 1 {
				continue
			}
			last := run[len(run)-1]
			replace[last] = merge(entries, run)
			for _, pos := range run[:len(run)-1] {
				drop[pos] = true
			}
		}
	}

	out := make([]domain.Entry, 0, len(entries))
	for i, entry := range entries {
		if drop[i] {
			continue
		}
		if merged, ok := replace[i]; ok {
			out = append(out, merged)
			continue
		}
		out = append(out, entry.Clone())
	}
	return out
}

// draftRuns splits date-sorted draft positions wherever consecutive visits lapse.
func (e *Engine) draftRuns(entries []domain.Entry, drafts []int) [][]int {
	if len(drafts) == 0 {
		return nil
	}
	runs := [][]int{{drafts[0]}}
	for _, pos := range drafts[1:] {
		prev := runs[len(runs)-1]
		prevDate := entries[prev[len(prev)-1]].Date
		if Lapsed(prevDate, serviceDates(entries[pos])[0], e.cfg.MaxLapse) {
			runs = append(runs, []int{pos})
			continue
		}
		runs[len(runs)-1] = append(prev, pos)
	}
	return runs
}

// Part is one (facility, provider) group of therapy entries, positions sorted by date.
type Part struct {
	Key       string
	Positions []int
}

// Partition groups therapy entries by facility and provider in order of first appearance.
func Partition(entries []domain.Entry) []Part {
	index := make(map[string]int)
	var parts []Part
	for i, entry := range entries {
		if entry.Kind != domain.KindTherapy {
			continue
		}
		key := PartitionKey(entry)
		at, ok := index[key]
		if !ok {
			at = len(parts)
			index[key] = at
			parts = append(parts, Part{Key: key})
		}
		parts[at].Positions = append(parts[at].Positions, i)
	}
	for _, part := range parts {
		sort.SliceStable(part.Positions, func(a, b int) bool {
			return entries[part.Positions[a]].Date.Before(entries[part.Positions[b]].Date)
		})
	}
	return parts
}

func PartitionKey(e domain.Entry) string {
	return normalize(e.Facility) + "|" + normalize(e.Provider.Name()) + "|" + normalize(strings.ReplaceAll(e.Provider.Credentials, ".", ""))
}

// Lapsed reports whether the gap from prev to next exceeds maxLapse. A zero maxLapse never lapses.
func Lapsed(prev, next time.Time, maxLapse time.Duration) bool {
	return maxLapse > 0 && next.Sub(prev) > maxLapse
}

// SplitRuns splits sorted dates into runs separated by gaps over maxLapse.
func SplitRuns(dates []time.Time, maxLapse time.Duration) [][]time.Time {
	if len(dates) == 0 {
		return nil
	}
	runs := [][]time.Time{{dates[0]}}
	for _, d := range dates[1:] {
		cur := runs[len(runs)-1]
		if Lapsed(cur[len(cur)-1], d, maxLapse) {
			runs = append(runs, []time.Time{d})
			continue
		}
		runs[len(runs)-1] = append(cur, d)
	}
	return runs
}

func merge(entries []domain.Entry, run []int) domain.Entry {
	final := entries[run[len(run)-1]]

	var dates []time.Time
	var sources []string
	for _, pos := range run {
		dates = append(dates, serviceDates(entries[pos])...)
		for _, id := range entries[pos].Sources() {
			if id != final.SourceDocumentID && !contains(sources, id) {
				sources = append(sources, id)
			}
		}
	}
	dates = uniqueSorted(dates)

	merged := final.Clone()
	merged.Date = dates[len(dates)-1]
	merged.ServiceDates = dates
	merged.MergedSources = sources
	merged.Consolidated = true
	merged.Summary = Preamble(final.VisitType, dates) + " " + final.Summary
	return merged
}

// Preamble lists the date range and every date of a consolidated run.
func Preamble(visitType string, dates []time.Time) string {
	label := strings.TrimSpace(visitType)
	if label == "" {
		label = "Therapy"
	}
	listed := make([]string, len(dates))
	for i, d := range dates {
		listed[i] = format.HeadingDate(d)
	}
	return fmt.Sprintf("%s visits from %s through %s (%d visits). Dates of service: %s.",
		label, listed[0], listed[len(listed)-1], len(listed), strings.Join(listed, ", "))
}

func serviceDates(e domain.Entry) []time.Time {
	if len(e.ServiceDates) == 0 {
		return []time.Time{e.Date}
	}
	return e.ServiceDates
}

func uniqueSorted(dates []time.Time) []time.Time {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	out := dates[:0]
	for i, d := range dates {
		if i > 0 && d.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
