package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// DocumentStore fetches the source documents of a patient reference.
type DocumentStore interface {
	Fetch(ctx context.Context, reference string) ([]domain.RawDocument, error)
}

// TextRecognizer turns a raw document into text with a confidence score.
// Only a completely unreadable input returns *domain.UnreadableDocumentError.
type TextRecognizer interface {
	Recognize(ctx context.Context, raw domain.RawDocument) (domain.RecognizedDocument, error)
}

// NarrativeGenerator drafts chronology entries from recognized documents.
type NarrativeGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.ChronologySet, error)
}

// RemoteUploader copies persisted artifacts to remote storage.
type RemoteUploader interface {
	Upload(ctx context.Context, artifacts []domain.Artifact, destination string) error
}

// ArtifactStore persists session artifacts. Save must be atomic.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data io.Reader) (domain.ArtifactRef, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Digest(ctx context.Context, key string) (string, error)
}

// PhaseStateStore persists pipeline phase state per session.
type PhaseStateStore interface {
	Load(ctx context.Context, sessionID string) (*domain.PipelinePhaseState, error)
	Save(ctx context.Context, state *domain.PipelinePhaseState) error
}

// SessionQueue publishes/consumes session requests.
type SessionQueue interface {
	PublishSession(ctx context.Context, req domain.SessionRequest) error
	SubscribeSessions(ctx context.Context, handler func(context.Context, domain.SessionRequest) error) error
}

// SessionLocker keeps a session single-threaded across processes.
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID string, ttl time.Duration) (release func(context.Context) error, err error)
}

// GenerationLimiter bounds concurrent generator calls process-wide in FIFO order.
type GenerationLimiter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// SessionObserver receives orchestrator lifecycle events.
type SessionObserver interface {
	PhaseFinished(phase domain.Phase, outcome string, elapsed time.Duration)
	PhaseRetried(phase domain.Phase)
	RefineRounds(rounds int, accepted bool)
	SessionFinished(status domain.SessionStatus)
}

// SpreadsheetWriter renders a chronology as a workbook.
type SpreadsheetWriter interface {
	WriteChronology(set *domain.ChronologySet, docs []domain.RecognizedDocument) ([]byte, error)
}

// PhaseRetrier retries one phase operation within its budget.
type PhaseRetrier interface {
	Do(ctx context.Context, operation string, fn func(context.Context) error) error
}
