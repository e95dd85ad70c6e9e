// Package vision recognizes scanned PDFs with the Google Cloud Vision
// files:annotate endpoint.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/recognizer/pdftext"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/resilience"
)

const (
	DefaultEndpoint = "https://vision.googleapis.com/v1/files:annotate"
	// maxPagesPerRequest is the files:annotate limit for synchronous calls.
	maxPagesPerRequest = 5
)

type Client struct {
	endpoint   string
	apiKey     string
	batchPages int
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(endpoint, apiKey string, batchPages int, executor *resilience.Executor) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if batchPages <= 0 || batchPages > maxPagesPerRequest {
		batchPages = maxPagesPerRequest
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		batchPages: batchPages,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		executor:   executor,
	}
}

type annotateRequest struct {
	Requests []fileRequest `json:"requests"`
}

type fileRequest struct {
	InputConfig inputConfig `json:"inputConfig"`
	Features    []feature   `json:"features"`
	Pages       []int       `json:"pages"`
}

type inputConfig struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		Responses []pageResponse `json:"responses"`
	} `json:"responses"`
}

type pageResponse struct {
	FullTextAnnotation *struct {
		Text string `json:"text"`
	} `json:"fullTextAnnotation"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Recognize OCRs the document in page batches. Confidence is the share of
// pages that returned text; a page-level error only lowers confidence.
func (c *Client) Recognize(ctx context.Context, raw domain.RawDocument) (domain.RecognizedDocument, error) {
	total, err := pdftext.PageCount(raw.Data)
	if err != nil {
		return domain.RecognizedDocument{}, &domain.UnreadableDocumentError{DocumentID: raw.ID, Name: raw.Name, Reason: err.Error()}
	}
	content := base64.StdEncoding.EncodeToString(raw.Data)

	var pages []string
	for first := 1; first <= total; first += c.batchPages {
		last := min(first+c.batchPages-1, total)
		batch, err := c.annotate(ctx, content, first, last)
		if err != nil {
			return domain.RecognizedDocument{}, err
		}
		for _, page := range batch {
			if page.Error != nil || page.FullTextAnnotation == nil {
				continue
			}
			if text := strings.TrimSpace(page.FullTextAnnotation.Text); text != "" {
				pages = append(pages, text)
			}
		}
	}
	if len(pages) == 0 {
		return domain.RecognizedDocument{}, &domain.UnreadableDocumentError{
			DocumentID: raw.ID,
			Name:       raw.Name,
			Reason:     fmt.Sprintf("no text extracted from %d pages", total),
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

func (c *Client) annotate(ctx context.Context, content string, first, last int) ([]pageResponse, error) {
	pages := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		pages = append(pages, p)
	}
	payload := annotateRequest{Requests: []fileRequest{{
		InputConfig: inputConfig{Content: content, MimeType: "application/pdf"},
		Features:    []feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
		Pages:       pages,
	}}}

	var out annotateResponse
	err := c.executor.Execute(ctx, "vision.annotate", func(callCtx context.Context) error {
		return c.postJSON(callCtx, payload, &out)
	}, classifyVisionError)
	if err != nil {
		if classifyVisionError(err).Retryable {
			return nil, domain.WrapError(domain.ErrTemporary, "vision annotate", err)
		}
		return nil, err
	}
	if len(out.Responses) == 0 {
		return nil, fmt.Errorf("vision annotate pages %d-%d: empty response", first, last)
	}
	return out.Responses[0].Responses, nil
}

func (c *Client) postJSON(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal annotate request: %w", err)
	}
	endpoint := c.endpoint
	if c.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vision annotate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode annotate response: %w", err)
	}
	return nil
}

type statusError struct {
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return "vision annotate status: " + e.status
	}
	return "vision annotate status: " + e.status + ": " + e.body
}

func classifyVisionError(err error) resilience.ErrorClassification {
	var statusErr *statusError
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.As(err, &statusErr):
		retry := statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500
		return resilience.ErrorClassification{Retryable: retry, RecordFailure: retry}
	case errors.As(err, &netErr):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}
