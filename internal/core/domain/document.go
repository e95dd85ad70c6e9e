package domain

import "strings"

type Quality string

const (
	QualityGood     Quality = "good"
	QualityModerate Quality = "moderate"
	QualityPoor     Quality = "poor"
)

const (
	goodConfidence     = 0.90
	moderateConfidence = 0.60
)

// QualityFromConfidence maps a recognizer confidence in [0,1] to a quality indicator.
func QualityFromConfidence(confidence float64) Quality {
	switch {
	case confidence >= goodConfidence:
		return QualityGood
	case confidence >= moderateConfidence:
		return QualityModerate
	default:
		return QualityPoor
	}
}

// RawDocument is one fetched source file.
type RawDocument struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
	Order       int    `json:"order"`
}

// RecognizedDocument is a source document after text extraction. Immutable once created.
type RecognizedDocument struct {
	ID          string  `json:"document_id"`
	Name        string  `json:"name"`
	Text        string  `json:"-"`
	Confidence  float64 `json:"confidence"`
	Quality     Quality `json:"quality"`
	Processable bool    `json:"processable"`
	PageCount   int     `json:"page_count,omitempty"`
	Note        string  `json:"note,omitempty"`
	Order       int     `json:"order"`
}

// UnprocessableDocument builds the record kept for a document that could not be read.
func UnprocessableDocument(raw RawDocument, reason string) RecognizedDocument {
	return RecognizedDocument{
		ID:          raw.ID,
		Name:        raw.Name,
		Confidence:  0,
		Quality:     QualityPoor,
		Processable: false,
		Note:        strings.TrimSpace(reason),
		Order:       raw.Order,
	}
}

// DocumentByID indexes documents by id.
func DocumentByID(docs []RecognizedDocument) map[string]RecognizedDocument {
	out := make(map[string]RecognizedDocument, len(docs))
	for _, doc := range docs {
		out[doc.ID] = doc
	}
	return out
}
