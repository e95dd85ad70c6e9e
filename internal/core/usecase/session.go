package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/gapreport"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
)

const tracerName = "github.com/kirillkom/medical-chronology/internal/core/usecase"

type SessionConfig struct {
	CallTimeout  time.Duration
	MaxRounds    int
	GapThreshold time.Duration
	// Destination is the remote prefix; the request destination overrides it.
	Destination string
	LockTTL     time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		CallTimeout:  2 * time.Minute,
		MaxRounds:    DefaultMaxRounds,
		GapThreshold: gapreport.DefaultGapThreshold,
		LockTTL:      30 * time.Minute,
	}
}

// SessionDeps are the collaborators of the orchestrator. Uploader, Locker,
// Observer and Spreadsheet are optional.
type SessionDeps struct {
	Documents   ports.DocumentStore
	Recognizer  ports.TextRecognizer
	Generator   ports.NarrativeGenerator
	Limiter     ports.GenerationLimiter
	Uploader    ports.RemoteUploader
	Artifacts   ports.ArtifactStore
	States      ports.PhaseStateStore
	Retrier     ports.PhaseRetrier
	Locker      ports.SessionLocker
	Observer    ports.SessionObserver
	Spreadsheet ports.SpreadsheetWriter
	Refiner     *RefineUseCase
	Clock       func() time.Time
}

type SessionUseCase struct {
	deps   SessionDeps
	cfg    SessionConfig
	drafts *draftGenerator
}

func NewSessionUseCase(deps SessionDeps, cfg SessionConfig) *SessionUseCase {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = deps.Refiner.MaxRounds()
	}
	return &SessionUseCase{
		deps: deps,
		cfg:  cfg,
		drafts: &draftGenerator{
			generator:   deps.Generator,
			limiter:     deps.Limiter,
			contract:    deps.Refiner.drafts.contract,
			callTimeout: cfg.CallTimeout,
		},
	}
}

// sessionRun holds the in-memory outputs of one session execution.
type sessionRun struct {
	req    domain.SessionRequest
	state  *domain.PipelinePhaseState
	result *domain.SessionResult

	raw       []domain.RawDocument
	docs      []domain.RecognizedDocument
	draft     *domain.ChronologySet
	seed      []domain.Violation
	validated *domain.ChronologySet
	outcome   validationOutcome
	persisted []domain.Artifact
}

type phaseStep struct {
	phase domain.Phase
	run   func(ctx context.Context, s *sessionRun, w *artifactWriter) error
	load  func(ctx context.Context, s *sessionRun) error
}

func (uc *SessionUseCase) steps() []phaseStep {
	return []phaseStep{
		{domain.PhaseFetch, uc.fetch, uc.loadFetch},
		{domain.PhaseRecognize, uc.recognize, uc.loadRecognize},
		{domain.PhaseGenerate, uc.generate, uc.loadGenerate},
		{domain.PhaseValidate, uc.validate, uc.loadValidate},
		{domain.PhasePersist, uc.persist, uc.loadPersist},
		{domain.PhaseUpload, uc.upload, nil},
	}
}

// Run executes or resumes a session. Failures are returned as
// *domain.PhaseError together with a result describing the failed phase.
func (uc *SessionUseCase) Run(ctx context.Context, req domain.SessionRequest) (*domain.SessionResult, error) {
	if !domain.ValidSessionID(req.SessionID) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run session", fmt.Errorf("invalid session id %q", req.SessionID))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.run")
	span.SetAttributes(attribute.String("session.id", req.SessionID))
	defer span.End()

	if uc.deps.Locker != nil {
		ttl := uc.cfg.LockTTL
		release, err := uc.deps.Locker.Acquire(ctx, req.SessionID, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("session_lock_release_failed", "session_id", req.SessionID, "error", err)
			}
		}()
	}

	state, err := uc.loadState(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	run := &sessionRun{
		req:    req,
		state:  state,
		result: &domain.SessionResult{SessionID: req.SessionID, Status: state.Status},
	}

	for _, step := range uc.steps() {
		if err := ctx.Err(); err != nil {
			run.state.Status = domain.SessionCancelled
			run.result.Status = domain.SessionCancelled
			if saveErr := uc.saveState(ctx, run.state); saveErr != nil {
				slog.Error("session_state_save_failed", "session_id", req.SessionID, "error", saveErr)
			}
			slog.Info("session_cancelled", "session_id", req.SessionID, "next_phase", step.phase)
			return run.result, err
		}

		resumed, err := uc.resume(ctx, run, step)
		if err != nil {
			return uc.fail(ctx, run, step.phase, err)
		}
		if resumed {
			continue
		}
		if err := uc.execute(ctx, run, step); err != nil {
			return uc.fail(ctx, run, step.phase, err)
		}
	}

	run.state.Status = domain.SessionDone
	run.state.FailedPhase = ""
	if err := uc.saveState(ctx, run.state); err != nil {
		return nil, err
	}
	run.result.Status = domain.SessionDone
	uc.deps.Observer.SessionFinished(domain.SessionDone)
	slog.Info("session_done",
		"session_id", req.SessionID,
		"documents", run.result.Documents,
		"entries", run.result.Entries,
		"rounds_used", run.result.RoundsUsed,
		"warnings", len(run.result.Warnings),
	)
	return run.result, nil
}

// resume trusts a completed phase only while all of its artifacts are intact.
// Otherwise the phase and every later phase are reset to pending.
func (uc *SessionUseCase) resume(ctx context.Context, run *sessionRun, step phaseStep) (bool, error) {
	rec := run.state.Record(step.phase)
	if rec.Status != domain.PhaseCompleted {
		return false, nil
	}

	intact, err := artifactsIntact(ctx, uc.deps.Artifacts, rec.Artifacts)
	if err != nil {
		return false, err
	}
	if intact && step.load != nil {
		if err := step.load(ctx, run); err != nil {
			slog.Warn("session_phase_artifacts_unreadable", "session_id", run.req.SessionID, "phase", step.phase, "error", err)
			intact = false
		}
	}
	if !intact {
		slog.Warn("session_phase_invalidated", "session_id", run.req.SessionID, "phase", step.phase)
		run.state.Invalidate(step.phase, uc.deps.Clock())
		return false, nil
	}

	run.result.Skipped = append(run.result.Skipped, step.phase)
	uc.deps.Observer.PhaseFinished(step.phase, "resumed", 0)
	slog.Info("session_phase_resumed", "session_id", run.req.SessionID, "phase", step.phase)
	return true, nil
}

// execute runs one phase to completion. Cancellation of ctx is only observed
// by Run between phases, so the phase body gets a detached context.
func (uc *SessionUseCase) execute(ctx context.Context, run *sessionRun, step phaseStep) error {
	ctx, span := otel.Tracer(tracerName).Start(context.WithoutCancel(ctx), "session.phase."+string(step.phase))
	defer span.End()

	started := uc.deps.Clock()
	run.state.Start(step.phase, started)
	run.result.Status = run.state.Status
	if err := uc.saveState(ctx, run.state); err != nil {
		return err
	}
	slog.Info("session_phase_started", "session_id", run.req.SessionID, "phase", step.phase)

	w := &artifactWriter{store: uc.deps.Artifacts}
	err := step.run(ctx, run, w)
	elapsed := uc.deps.Clock().Sub(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	rec := run.state.Record(step.phase)
	if rec.Status == domain.PhaseRunning {
		run.state.Complete(step.phase, w.refs, uc.deps.Clock())
	}
	if err := uc.saveState(ctx, run.state); err != nil {
		return err
	}

	outcome := string(run.state.Record(step.phase).Status)
	if run.state.Record(step.phase).Status == domain.PhaseFailed {
		outcome = "warning"
	}
	uc.deps.Observer.PhaseFinished(step.phase, outcome, elapsed)
	slog.Info("session_phase_completed",
		"session_id", run.req.SessionID,
		"phase", step.phase,
		"outcome", outcome,
		"artifacts", len(w.refs),
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (uc *SessionUseCase) fail(ctx context.Context, run *sessionRun, phase domain.Phase, err error) (*domain.SessionResult, error) {
	run.state.Fail(phase, err, uc.deps.Clock())
	if saveErr := uc.saveState(ctx, run.state); saveErr != nil {
		err = fmt.Errorf("%w; save failed state: %v", err, saveErr)
	}
	run.result.Status = domain.SessionFailed
	run.result.FailedPhase = phase
	run.result.Error = err.Error()

	uc.deps.Observer.PhaseFinished(phase, string(domain.PhaseFailed), 0)
	uc.deps.Observer.SessionFinished(domain.SessionFailed)
	slog.Error("session_phase_failed", "session_id", run.req.SessionID, "phase", phase, "error", err)
	return run.result, &domain.PhaseError{Phase: phase, Err: err}
}

// retry runs fn through the phase retry budget and counts attempts on the phase record.
func (uc *SessionUseCase) retry(ctx context.Context, run *sessionRun, phase domain.Phase, fn func(context.Context) error) error {
	return uc.deps.Retrier.Do(context.WithoutCancel(ctx), string(phase), func(attemptCtx context.Context) error {
		err := fn(attemptCtx)
		run.state.AddAttempt(phase, err, uc.deps.Clock())
		if err != nil && isTemporary(err) {
			uc.deps.Observer.PhaseRetried(phase)
		}
		return err
	})
}

func isTemporary(err error) bool {
	collab, ok := domain.AsCollaborator(err)
	return ok && collab.Temporary()
}

func (uc *SessionUseCase) loadState(ctx context.Context, sessionID string) (*domain.PipelinePhaseState, error) {
	state, err := uc.deps.States.Load(ctx, sessionID)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, domain.ErrStateNotFound) {
		return domain.NewPipelinePhaseState(sessionID, uc.deps.Clock()), nil
	}
	return nil, fmt.Errorf("load phase state: %w", err)
}

func (uc *SessionUseCase) saveState(ctx context.Context, state *domain.PipelinePhaseState) error {
	if err := uc.deps.States.Save(context.WithoutCancel(ctx), state); err != nil {
		return fmt.Errorf("save phase state: %w", err)
	}
	return nil
}

type noopObserver struct{}

func (noopObserver) PhaseFinished(domain.Phase, string, time.Duration) {}
func (noopObserver) PhaseRetried(domain.Phase)                         {}
func (noopObserver) RefineRounds(int, bool)                            {}
func (noopObserver) SessionFinished(domain.SessionStatus)              {}
