package ports

import (
	"context"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// SessionRunner is the inbound contract for running one chronology session.
type SessionRunner interface {
	Run(ctx context.Context, req domain.SessionRequest) (*domain.SessionResult, error)
}

// SessionSubmitter enqueues sessions for asynchronous processing.
type SessionSubmitter interface {
	Submit(ctx context.Context, req domain.SessionRequest) (domain.SessionRequest, error)
}

// SessionReader is the inbound read model for session phase state.
type SessionReader interface {
	GetState(ctx context.Context, sessionID string) (*domain.PipelinePhaseState, error)
}

// ChronologyValidator validates an externally produced narrative.
type ChronologyValidator interface {
	ValidateNarrative(ctx context.Context, text string) (domain.ViolationReport, error)
}
