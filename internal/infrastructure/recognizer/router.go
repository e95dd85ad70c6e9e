// Package recognizer routes documents to a text recognizer by content type.
package recognizer

import (
	"context"
	"mime"
	"strings"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
)

type Router struct {
	routes   map[string]ports.TextRecognizer
	fallback ports.TextRecognizer
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]ports.TextRecognizer)}
}

// Handle registers r for a media type such as "application/pdf".
func (rt *Router) Handle(mediaType string, r ports.TextRecognizer) *Router {
	rt.routes[strings.ToLower(mediaType)] = r
	return rt
}

// Fallback handles media types without a route.
func (rt *Router) Fallback(r ports.TextRecognizer) *Router {
	rt.fallback = r
	return rt
}

func (rt *Router) Recognize(ctx context.Context, raw domain.RawDocument) (domain.RecognizedDocument, error) {
	mediaType := strings.ToLower(strings.TrimSpace(raw.ContentType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	target, ok := rt.routes[mediaType]
	if !ok {
		target = rt.fallback
	}
	if target == nil {
		return domain.RecognizedDocument{}, &domain.UnreadableDocumentError{
			DocumentID: raw.ID,
			Name:       raw.Name,
			Reason:     "unsupported content type " + mediaType,
		}
	}
	return target.Recognize(ctx, raw)
}

// Chain tries each recognizer in order and returns the first readable result.
// It lets a PDF fall back to OCR when it has no text layer.
type Chain []ports.TextRecognizer

func (c Chain) Recognize(ctx context.Context, raw domain.RawDocument) (domain.RecognizedDocument, error) {
	var lastErr error
	for _, r := range c {
		doc, err := r.Recognize(ctx, raw)
		if err == nil {
			return doc, nil
		}
		if _, ok := domain.AsUnreadable(err); !ok {
			return domain.RecognizedDocument{}, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &domain.UnreadableDocumentError{DocumentID: raw.ID, Name: raw.Name, Reason: "no recognizer configured"}
	}
	return domain.RecognizedDocument{}, lastErr
}
