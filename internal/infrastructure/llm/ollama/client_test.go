package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/resilience"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/schema"
)

const draftResponse = `{"metadata":{"patient_name":"John Doe","date_of_birth":"1980-05-02","date_of_injury":"2023-10-30"},
"entries":[{"date":"2023-11-01","facility":"General Hospital","provider":{"first":"Ann","last":"Lee","credentials":"MD"},
"visit_type":"Office Visit","summary":"Plan: rest.","source_document_id":"doc-001","entry_kind":"standard"}]}`

func newTestGenerator(t *testing.T, url string) *Generator {
	t.Helper()
	validator, err := schema.NewRecordValidator()
	if err != nil {
		t.Fatalf("record validator: %v", err)
	}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
	return NewGenerator(New(url, "gen", executor), validator)
}

func TestGeneratorBuildsDraftPrompt(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		payload, _ := json.Marshal(map[string]string{"response": "Here you go:\n" + draftResponse})
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	gen := newTestGenerator(t, server.URL)
	set, err := gen.Generate(context.Background(), domain.GenerationRequest{
		Contract:  "Chronology contract:\n1. [header] ...",
		Documents: []domain.RecognizedDocument{{ID: "doc-001", Name: "er.txt", Text: "ER visit 11/01/2023", Quality: domain.QualityGood}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(set.Entries) != 1 || set.Entries[0].SourceDocumentID != "doc-001" {
		t.Fatalf("unexpected set %+v", set)
	}
	prompt, _ := captured["prompt"].(string)
	if !strings.Contains(prompt, "[doc-001] file=er.txt") || !strings.Contains(prompt, "Chronology contract") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
	if captured["format"] != "json" {
		t.Fatalf("expected json format, got %v", captured["format"])
	}
}

func TestGeneratorCorrectionPromptListsViolations(t *testing.T) {
	var prompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		prompt, _ = payload["prompt"].(string)
		out, _ := json.Marshal(map[string]string{"response": draftResponse})
		_, _ = w.Write(out)
	}))
	defer server.Close()

	gen := newTestGenerator(t, server.URL)
	_, err := gen.Generate(context.Background(), domain.GenerationRequest{
		Feedback: &domain.CorrectionFeedback{
			Round:          2,
			Violations:     []domain.Violation{{RuleID: "banned-construct", EntryIndex: 0, Message: "emphasis \"**x**\" is not allowed", Severity: domain.SeverityBlocking}},
			FlaggedEntries: []int{0},
			Current:        &domain.ChronologySet{},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	for _, want := range []string{"Correction round 2", "banned-construct (entry 1)", "Rewrite only entries 1.", "Current chronology:"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected %q in prompt:\n%s", want, prompt)
		}
	}
}

func TestGeneratorMalformedOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"metadata\":{},\"entries\":[{\"date\":\"soon\"}]}"}`))
	}))
	defer server.Close()

	_, err := newTestGenerator(t, server.URL).Generate(context.Background(), domain.GenerationRequest{})
	if _, ok := domain.AsMalformed(err); !ok {
		t.Fatalf("expected malformed entry error, got %v", err)
	}
}

func TestGeneratorRetriesAndMarksTemporary(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestGenerator(t, server.URL).Generate(context.Background(), domain.GenerationRequest{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if !strings.Contains(err.Error(), "model loading") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestGeneratorMissingModelIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `model "gen" not found`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestGenerator(t, server.URL).Generate(context.Background(), domain.GenerationRequest{})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
