// Package pdftext reads the embedded text layer of PDF documents.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

type Recognizer struct{}

func NewRecognizer() *Recognizer {
	return &Recognizer{}
}

// Recognize scores confidence as the share of pages that carry text.
// Scanned PDFs without a text layer are reported unreadable.
func (r *Recognizer) Recognize(ctx context.Context, raw domain.RawDocument) (domain.RecognizedDocument, error) {
	reader, err := open(raw.Data)
	if err != nil {
		return domain.RecognizedDocument{}, &domain.UnreadableDocumentError{DocumentID: raw.ID, Name: raw.Name, Reason: err.Error()}
	}

	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return domain.RecognizedDocument{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return domain.RecognizedDocument{}, &domain.UnreadableDocumentError{
			DocumentID: raw.ID,
			Name:       raw.Name,
			Reason:     fmt.Sprintf("no text layer in %d pages", total),
		}
	}

	confidence := float64(len(pages)) / float64(total)
	return domain.RecognizedDocument{
		ID:          raw.ID,
		Name:        raw.Name,
		Text:        strings.Join(pages, "\n\n"),
		Confidence:  confidence,
		Quality:     domain.QualityFromConfidence(confidence),
		Processable: true,
		PageCount:   total,
		Order:       raw.Order,
	}, nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(data []byte) (int, error) {
	reader, err := open(data)
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}

func open(data []byte) (reader *pdf.Reader, err error) {
	// The parser panics on some corrupt inputs.
	defer func() {
		if r := recover(); r != nil {
			reader, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	if reader.NumPage() == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	return reader, nil
}
