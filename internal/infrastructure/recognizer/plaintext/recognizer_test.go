package plaintext

import (
	"context"
	"testing"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

func TestRecognizeText(t *testing.T) {
	doc, err := NewRecognizer().Recognize(context.Background(), domain.RawDocument{ID: "doc-001", Name: "a.txt", Data: []byte(" visit 11/01/2023\r\nplan ")})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if doc.Text != "visit 11/01/2023\nplan" || !doc.Processable || doc.Quality != domain.QualityGood {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestRecognizeRejectsBinaryAndEmpty(t *testing.T) {
	for _, data := range [][]byte{{0xff, 0xfe, 0x00}, []byte("   ")} {
		_, err := NewRecognizer().Recognize(context.Background(), domain.RawDocument{ID: "doc-001", Name: "a.txt", Data: data})
		if _, ok := domain.AsUnreadable(err); !ok {
			t.Fatalf("expected unreadable document error for %q, got %v", data, err)
		}
	}
}
