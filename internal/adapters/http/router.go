package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
)

const maxNarrativeBytes = 4 << 20

type Options struct {
	Service         string
	RateLimitRPS    float64
	RateLimitBurst  int
	MaxInFlight     int
	BackpressureTTL time.Duration
	// Metrics serves /metrics and instruments requests when set.
	Metrics HTTPMetrics
}

// HTTPMetrics is implemented by metrics.HTTPServerMetrics.
type HTTPMetrics interface {
	Handler() http.Handler
	Middleware(service string, next http.Handler) http.Handler
	RecordRejected(service, reason string)
	RecordValidation(service string, blocking bool)
}

type Router struct {
	opts      Options
	submitter ports.SessionSubmitter
	reader    ports.SessionReader
	validator ports.ChronologyValidator
}

func NewRouter(
	opts Options,
	submitter ports.SessionSubmitter,
	reader ports.SessionReader,
	validator ports.ChronologyValidator,
) *Router {
	if opts.Service == "" {
		opts.Service = "api"
	}
	return &Router{
		opts:      opts,
		submitter: submitter,
		reader:    reader,
		validator: validator,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/sessions", rt.submitSession)
	mux.HandleFunc("GET /v1/sessions/{id}", rt.getSession)
	mux.HandleFunc("POST /v1/chronologies/validate", rt.validateNarrative)
	if rt.opts.Metrics != nil {
		mux.Handle("GET /metrics", rt.opts.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.BackpressureTTL, rt.reject("backpressure"))
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst, rt.reject("rate_limit"))
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(rt.opts.Service, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) reject(reason string) func() {
	if rt.opts.Metrics == nil {
		return nil
	}
	return func() { rt.opts.Metrics.RecordRejected(rt.opts.Service, reason) }
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type metadataPayload struct {
	PatientName  string `json:"patient_name"`
	DateOfBirth  string `json:"date_of_birth"`
	DateOfInjury string `json:"date_of_injury"`
}

type submitSessionRequest struct {
	SessionID   string          `json:"session_id"`
	PatientID   string          `json:"patient_id"`
	Reference   string          `json:"reference"`
	Destination string          `json:"destination"`
	Metadata    metadataPayload `json:"metadata"`
}

type submitSessionResponse struct {
	SessionID string               `json:"session_id"`
	Status    domain.SessionStatus `json:"status"`
}

func (rt *Router) submitSession(w http.ResponseWriter, r *http.Request) {
	var req submitSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	metadata, err := parseMetadata(req.Metadata)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, err := rt.submitter.Submit(r.Context(), domain.SessionRequest{
		SessionID:   strings.TrimSpace(req.SessionID),
		PatientID:   req.PatientID,
		Reference:   req.Reference,
		Destination: req.Destination,
		Metadata:    metadata,
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitSessionResponse{SessionID: accepted.SessionID, Status: domain.SessionPending})
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	state, err := rt.reader.GetState(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type validateResponse struct {
	Valid      bool               `json:"valid"`
	Blocking   int                `json:"blocking"`
	Advisory   int                `json:"advisory"`
	Violations []domain.Violation `json:"violations"`
}

// validateNarrative accepts {"narrative": "..."} or a raw text body.
func (rt *Router) validateNarrative(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNarrativeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if len(body) > maxNarrativeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "narrative too large")
		return
	}

	text := string(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Narrative string `json:"narrative"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		text = req.Narrative
	}

	report, err := rt.validator.ValidateNarrative(r.Context(), text)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordValidation(rt.opts.Service, report.HasBlocking())
	}
	violations := report.Violations
	if violations == nil {
		violations = []domain.Violation{}
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:      !report.HasBlocking(),
		Blocking:   len(report.Blocking()),
		Advisory:   len(report.Advisory()),
		Violations: violations,
	})
}

func parseMetadata(p metadataPayload) (domain.Metadata, error) {
	out := domain.Metadata{PatientName: strings.TrimSpace(p.PatientName)}
	for _, field := range []struct {
		name string
		raw  string
		dst  *time.Time
	}{
		{"date_of_birth", p.DateOfBirth, &out.DateOfBirth},
		{"date_of_injury", p.DateOfInjury, &out.DateOfInjury},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		parsed, err := format.ParseDate(field.raw)
		if err != nil {
			return domain.Metadata{}, errors.New("metadata." + field.name + ": unrecognized date")
		}
		*field.dst = parsed
	}
	return out, nil
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
