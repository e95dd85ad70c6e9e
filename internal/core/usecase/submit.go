package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/medical-chronology/internal/core/contract"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
)

type SubmitSessionUseCase struct {
	states ports.PhaseStateStore
	queue  ports.SessionQueue
	clock  func() time.Time
}

func NewSubmitSessionUseCase(states ports.PhaseStateStore, queue ports.SessionQueue) *SubmitSessionUseCase {
	return &SubmitSessionUseCase{
		states: states,
		queue:  queue,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a pending session and enqueues it for a worker.
// A request without a session id gets one derived from the patient id,
// or a random one when no patient id is given.
func (uc *SubmitSessionUseCase) Submit(ctx context.Context, req domain.SessionRequest) (domain.SessionRequest, error) {
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Reference == "" {
		return domain.SessionRequest{}, domain.WrapError(domain.ErrInvalidInput, "submit session", errors.New("reference is required"))
	}
	switch {
	case req.SessionID != "":
	case strings.TrimSpace(req.PatientID) != "":
		req.SessionID = domain.NewSessionID(req.PatientID, uc.clock())
	default:
		req.SessionID = uuid.NewString()
	}
	if !domain.ValidSessionID(req.SessionID) {
		return domain.SessionRequest{}, domain.WrapError(domain.ErrInvalidInput, "submit session", fmt.Errorf("invalid session id %q", req.SessionID))
	}

	if _, err := uc.states.Load(ctx, req.SessionID); err != nil {
		if !errors.Is(err, domain.ErrStateNotFound) {
			return domain.SessionRequest{}, fmt.Errorf("load phase state: %w", err)
		}
		if err := uc.states.Save(ctx, domain.NewPipelinePhaseState(req.SessionID, uc.clock())); err != nil {
			return domain.SessionRequest{}, fmt.Errorf("create phase state: %w", err)
		}
	}

	if err := uc.queue.PublishSession(ctx, req); err != nil {
		return domain.SessionRequest{}, fmt.Errorf("publish session request: %w", err)
	}
	return req, nil
}

func (uc *SubmitSessionUseCase) GetState(ctx context.Context, sessionID string) (*domain.PipelinePhaseState, error) {
	if !domain.ValidSessionID(sessionID) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get session state", fmt.Errorf("invalid session id %q", sessionID))
	}
	state, err := uc.states.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrStateNotFound) {
			return nil, domain.WrapError(domain.ErrNotFound, "get session state", err)
		}
		return nil, fmt.Errorf("load phase state: %w", err)
	}
	return state, nil
}

// NarrativeValidationUseCase validates narratives produced outside the pipeline.
type NarrativeValidationUseCase struct {
	validator *contract.Validator
}

func NewNarrativeValidationUseCase(validator *contract.Validator) *NarrativeValidationUseCase {
	return &NarrativeValidationUseCase{validator: validator}
}

func (uc *NarrativeValidationUseCase) ValidateNarrative(_ context.Context, text string) (domain.ViolationReport, error) {
	if strings.TrimSpace(text) == "" {
		return domain.ViolationReport{}, domain.WrapError(domain.ErrInvalidInput, "validate narrative", errors.New("narrative is empty"))
	}
	return uc.validator.ValidateNarrative(text), nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
