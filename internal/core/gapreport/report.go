// Package gapreport documents missing, low-quality and chronologically
// discontinuous records of a finished chronology.
package gapreport

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
)

const DefaultGapThreshold = 90 * 24 * time.Hour

type Config struct {
	GapThreshold time.Duration
}

type DocumentNote struct {
	DocumentID string         `json:"document_id"`
	Name       string         `json:"name"`
	Quality    domain.Quality `json:"quality"`
	Confidence float64        `json:"confidence"`
	Note       string         `json:"note,omitempty"`
}

type Gap struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Days       int       `json:"days"`
	AfterEntry int       `json:"after_entry"`
}

type Report struct {
	Unprocessable []DocumentNote     `json:"unprocessable"`
	PoorQuality   []DocumentNote     `json:"poor_quality"`
	Gaps          []Gap              `json:"gaps"`
	Uncovered     []DocumentNote     `json:"uncovered"`
	Advisories    []domain.Violation `json:"advisories"`
	Warnings      []string           `json:"warnings,omitempty"`
}

func (r Report) Empty() bool {
	return len(r.Unprocessable) == 0 && len(r.PoorQuality) == 0 && len(r.Gaps) == 0 &&
		len(r.Uncovered) == 0 && len(r.Advisories) == 0 && len(r.Warnings) == 0
}

// Build derives the gap report. Only advisory violations are retained.
func Build(set *domain.ChronologySet, docs []domain.RecognizedDocument, violations []domain.Violation, cfg Config) Report {
	var r Report

	covered := make(map[string]bool)
	if set != nil {
		for _, e := range set.Entries {
			for _, id := range e.Sources() {
				covered[id] = true
			}
		}
	}

	for _, doc := range docs {
		note := DocumentNote{DocumentID: doc.ID, Name: doc.Name, Quality: doc.Quality, Confidence: doc.Confidence, Note: doc.Note}
		if doc.Quality == domain.QualityPoor {
			r.PoorQuality = append(r.PoorQuality, note)
		}
		if !doc.Processable {
			r.Unprocessable = append(r.Unprocessable, note)
			continue
		}
		if !covered[doc.ID] {
			r.Uncovered = append(r.Uncovered, note)
		}
	}

	if set != nil && cfg.GapThreshold > 0 {
		for i := 1; i < len(set.Entries); i++ {
			from, to := set.Entries[i-1].Date, set.Entries[i].Date
			if to.Sub(from) > cfg.GapThreshold {
				r.Gaps = append(r.Gaps, Gap{From: from, To: to, Days: int(to.Sub(from).Hours() / 24), AfterEntry: i - 1})
			}
		}
	}

	for _, v := range violations {
		if v.Severity == domain.SeverityAdvisory {
			r.Advisories = append(r.Advisories, v)
		}
	}
	return r
}

func Render(r Report) string {
	var b strings.Builder
	b.WriteString("# Gaps and Quality Report\n")

	section := func(title string, empty bool, body func()) {
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		if empty {
			b.WriteString("None.\n")
			return
		}
		body()
	}

	section("Unprocessable documents", len(r.Unprocessable) == 0, func() {
		for _, n := range r.Unprocessable {
			fmt.Fprintf(&b, "%s (%s): excluded from the chronology. %s\n", displayName(n), n.DocumentID, strings.TrimSpace(n.Note))
		}
	})
	section("Poor quality documents", len(r.PoorQuality) == 0, func() {
		for _, n := range r.PoorQuality {
			fmt.Fprintf(&b, "%s (%s): recognition confidence %.0f%%, review the source for OCR errors.\n", displayName(n), n.DocumentID, n.Confidence*100)
		}
	})
	section("Chronological gaps", len(r.Gaps) == 0, func() {
		for _, g := range r.Gaps {
			fmt.Fprintf(&b, "%s to %s: %d days without records.\n", format.HeadingDate(g.From), format.HeadingDate(g.To), g.Days)
		}
	})
	section("Documents without entries", len(r.Uncovered) == 0, func() {
		for _, n := range r.Uncovered {
			fmt.Fprintf(&b, "%s (%s): no chronology entry references this document.\n", displayName(n), n.DocumentID)
		}
	})
	section("Advisory findings", len(r.Advisories) == 0, func() {
		for _, v := range r.Advisories {
			b.WriteString(v.String())
			b.WriteByte('\n')
		}
	})
	if len(r.Warnings) > 0 {
		section("Pipeline warnings", false, func() {
			for _, w := range r.Warnings {
				b.WriteString(w)
				b.WriteByte('\n')
			}
		})
	}
	return b.String()
}

func displayName(n DocumentNote) string {
	if strings.TrimSpace(n.Name) != "" {
		return n.Name
	}
	return n.DocumentID
}
