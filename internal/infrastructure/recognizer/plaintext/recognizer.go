package plaintext

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// Recognizer reads text documents as-is.
type Recognizer struct{}

func NewRecognizer() *Recognizer {
	return &Recognizer{}
}

func (r *Recognizer) Recognize(_ context.Context, raw domain.RawDocument) (domain.RecognizedDocument, error) {
	if !utf8.Valid(raw.Data) {
		return domain.RecognizedDocument{}, &domain.UnreadableDocumentError{DocumentID: raw.ID, Name: raw.Name, Reason: "not valid UTF-8 text"}
	}
	text := strings.TrimSpace(strings.ReplaceAll(string(raw.Data), "\r\n", "\n"))
	if text == "" {
		return domain.RecognizedDocument{}, &domain.UnreadableDocumentError{DocumentID: raw.ID, Name: raw.Name, Reason: "document is empty"}
	}
	return domain.RecognizedDocument{
		ID:          raw.ID,
		Name:        raw.Name,
		Text:        text,
		Confidence:  1,
		Quality:     domain.QualityGood,
		Processable: true,
		PageCount:   1,
		Order:       raw.Order,
	}, nil
}
