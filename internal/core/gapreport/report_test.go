package gapreport

import (
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBuildCollectsAllSections(t *testing.T) {
	docs := []domain.RecognizedDocument{
		{ID: "doc-001", Name: "er.pdf", Processable: true, Quality: domain.QualityGood, Confidence: 1},
		{ID: "doc-002", Name: "scan.pdf", Processable: true, Quality: domain.QualityPoor, Confidence: 0.4},
		{ID: "doc-003", Name: "blank.pdf", Processable: false, Quality: domain.QualityPoor, Note: "no text layer"},
		{ID: "doc-004", Name: "bill.pdf", Processable: true, Quality: domain.QualityGood, Confidence: 1},
	}
	set := &domain.ChronologySet{Entries: []domain.Entry{
		{Date: day(2023, time.January, 5), SourceDocumentID: "doc-001"},
		{Date: day(2023, time.June, 1), SourceDocumentID: "doc-002"},
	}}
	violations := []domain.Violation{
		{RuleID: "tone", EntryIndex: 0, Severity: domain.SeverityAdvisory, Message: "connective"},
		{RuleID: "imaging", EntryIndex: 1, Severity: domain.SeverityBlocking, Message: "blocking"},
	}

	r := Build(set, docs, violations, Config{GapThreshold: DefaultGapThreshold})
	if len(r.Unprocessable) != 1 || r.Unprocessable[0].DocumentID != "doc-003" {
		t.Fatalf("unexpected unprocessable %+v", r.Unprocessable)
	}
	if len(r.PoorQuality) != 2 || r.PoorQuality[0].DocumentID != "doc-002" || r.PoorQuality[1].DocumentID != "doc-003" {
		t.Fatalf("expected poor quality doc-002 and unprocessable doc-003, got %+v", r.PoorQuality)
	}
	if len(r.Uncovered) != 1 || r.Uncovered[0].DocumentID != "doc-004" {
		t.Fatalf("unexpected uncovered %+v", r.Uncovered)
	}
	if len(r.Gaps) != 1 || r.Gaps[0].Days != 147 {
		t.Fatalf("unexpected gaps %+v", r.Gaps)
	}
	if len(r.Advisories) != 1 || r.Advisories[0].RuleID != "tone" {
		t.Fatalf("expected only advisory violations, got %+v", r.Advisories)
	}

	out := Render(r)
	for _, want := range []string{"blank.pdf (doc-003)", "01/05/2023 to 06/01/2023: 147 days", "confidence 40%", "bill.pdf (doc-004)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}

func TestBuildEmptyWhenClean(t *testing.T) {
	docs := []domain.RecognizedDocument{{ID: "doc-001", Processable: true, Quality: domain.QualityGood}}
	set := &domain.ChronologySet{Entries: []domain.Entry{{Date: day(2023, time.January, 5), SourceDocumentID: "doc-001"}}}

	r := Build(set, docs, nil, Config{GapThreshold: DefaultGapThreshold})
	if !r.Empty() {
		t.Fatalf("expected empty report, got %+v", r)
	}
	if !strings.Contains(Render(r), "None.") {
		t.Fatal("expected empty sections rendered as None.")
	}
}
