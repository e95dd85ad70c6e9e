package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel string, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		executor:   executor,
	}
}

// RecordSchema checks raw generator output before it is decoded.
type RecordSchema interface {
	Validate(data []byte) error
}

// Generator drafts and corrects chronology records with an Ollama model.
type Generator struct {
	client *Client
	schema RecordSchema
}

func NewGenerator(client *Client, schema RecordSchema) *Generator {
	return &Generator{client: client, schema: schema}
}

// Generate returns *domain.MalformedEntryError when the model output is not a valid record.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.ChronologySet, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}
	respText, err := g.client.generateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	raw := []byte(extractJSONObject(respText))
	if g.schema != nil {
		if err := g.schema.Validate(raw); err != nil {
			return nil, err
		}
	}
	set, err := format.ParseRecord(raw)
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0,
		},
	}
	return c.generate(ctx, reqBody)
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	err := c.executor.Execute(ctx, "ollama.generate", func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/generate", reqBody, &response, "generate")
	}, classifyOllamaError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("ollama generate", err)
	}
	if strings.TrimSpace(response.Response) == "" {
		return "", &domain.MalformedEntryError{Index: -1, Field: "record", Reason: fmt.Sprintf("model %s returned an empty response", c.genModel)}
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
