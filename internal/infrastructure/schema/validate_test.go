package schema

import (
	"testing"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

func TestRecordValidatorAcceptsRecord(t *testing.T) {
	v, err := NewRecordValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	data := []byte(`{
		"metadata": {"patient_name": "John Doe", "date_of_birth": "1980-05-02", "date_of_injury": "2023-10-30"},
		"entries": [{
			"date": "2023-11-01",
			"facility": "General Hospital",
			"provider": {"first": "Ann", "last": "Lee", "credentials": "MD"},
			"visit_type": "Office Visit",
			"summary": "Plan: rest.",
			"source_document_id": "doc-001",
			"entry_kind": "standard"
		}]
	}`)
	if err := v.Validate(data); err != nil {
		t.Fatalf("expected valid record, got %v", err)
	}
}

func TestRecordValidatorRejectsUnknownKind(t *testing.T) {
	v, err := NewRecordValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	data := []byte(`{
		"metadata": {"patient_name": "", "date_of_birth": "", "date_of_injury": ""},
		"entries": [{"date": "2023-11-01", "visit_type": "X", "summary": "s", "source_document_id": "doc-001", "entry_kind": "surgery"}]
	}`)
	err = v.Validate(data)
	if _, ok := domain.AsMalformed(err); !ok {
		t.Fatalf("expected malformed entry error, got %v", err)
	}
}

func TestRecordValidatorRejectsMissingEntries(t *testing.T) {
	v, _ := NewRecordValidator()
	if err := v.Validate([]byte(`{"metadata": {"patient_name": "a", "date_of_birth": "", "date_of_injury": ""}}`)); err == nil {
		t.Fatalf("expected error for missing entries")
	}
}
