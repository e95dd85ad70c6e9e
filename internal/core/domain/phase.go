package domain

import "time"

type Phase string

const (
	PhaseFetch     Phase = "fetch"
	PhaseRecognize Phase = "recognize"
	PhaseGenerate  Phase = "generate"
	PhaseValidate  Phase = "validate"
	PhasePersist   Phase = "persist"
	PhaseUpload    Phase = "upload"
)

// Phases lists pipeline phases in execution order.
var Phases = []Phase{PhaseFetch, PhaseRecognize, PhaseGenerate, PhaseValidate, PhasePersist, PhaseUpload}

type SessionStatus string

const (
	SessionPending     SessionStatus = "pending"
	SessionFetching    SessionStatus = "fetching"
	SessionRecognizing SessionStatus = "recognizing"
	SessionGenerating  SessionStatus = "generating"
	SessionValidating  SessionStatus = "validating"
	SessionPersisting  SessionStatus = "persisting"
	SessionUploading   SessionStatus = "uploading"
	SessionDone        SessionStatus = "done"
	SessionFailed      SessionStatus = "failed"
	SessionCancelled   SessionStatus = "cancelled"
)

// RunningStatus is the session status while phase p executes.
func (p Phase) RunningStatus() SessionStatus {
	switch p {
	case PhaseFetch:
		return SessionFetching
	case PhaseRecognize:
		return SessionRecognizing
	case PhaseGenerate:
		return SessionGenerating
	case PhaseValidate:
		return SessionValidating
	case PhasePersist:
		return SessionPersisting
	case PhaseUpload:
		return SessionUploading
	default:
		return SessionPending
	}
}

type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

type ArtifactRef struct {
	Key    string `json:"key"`
	Digest string `json:"digest"`
}

type PhaseRecord struct {
	Status      PhaseStatus   `json:"status"`
	Attempts    int           `json:"attempts"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	Artifacts   []ArtifactRef `json:"artifacts,omitempty"`
}

// PipelinePhaseState is owned and mutated by the orchestrator only.
type PipelinePhaseState struct {
	SessionID   string                `json:"session_id"`
	Status      SessionStatus         `json:"status"`
	FailedPhase Phase                 `json:"failed_phase,omitempty"`
	Phases      map[Phase]PhaseRecord `json:"phases"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

func NewPipelinePhaseState(sessionID string, now time.Time) *PipelinePhaseState {
	state := &PipelinePhaseState{
		SessionID: sessionID,
		Status:    SessionPending,
		Phases:    make(map[Phase]PhaseRecord, len(Phases)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range Phases {
		state.Phases[p] = PhaseRecord{Status: PhasePending}
	}
	return state
}

func (s *PipelinePhaseState) Record(p Phase) PhaseRecord {
	if s.Phases == nil {
		return PhaseRecord{Status: PhasePending}
	}
	rec, ok := s.Phases[p]
	if !ok {
		return PhaseRecord{Status: PhasePending}
	}
	return rec
}

func (s *PipelinePhaseState) IsCompleted(p Phase) bool {
	return s.Record(p).Status == PhaseCompleted
}

func (s *PipelinePhaseState) Start(p Phase, now time.Time) {
	rec := s.Record(p)
	rec.Status = PhaseRunning
	rec.StartedAt = &now
	rec.CompletedAt = nil
	rec.LastError = ""
	s.set(p, rec, now)
	s.Status = p.RunningStatus()
	s.FailedPhase = ""
}

func (s *PipelinePhaseState) AddAttempt(p Phase, err error, now time.Time) {
	rec := s.Record(p)
	rec.Attempts++
	if err != nil {
		rec.LastError = err.Error()
	}
	s.set(p, rec, now)
}

func (s *PipelinePhaseState) Complete(p Phase, artifacts []ArtifactRef, now time.Time) {
	rec := s.Record(p)
	rec.Status = PhaseCompleted
	rec.CompletedAt = &now
	rec.Artifacts = artifacts
	s.set(p, rec, now)
}

func (s *PipelinePhaseState) Fail(p Phase, err error, now time.Time) {
	rec := s.Record(p)
	rec.Status = PhaseFailed
	if err != nil {
		rec.LastError = err.Error()
	}
	s.set(p, rec, now)
	s.Status = SessionFailed
	s.FailedPhase = p
}

// Warn records a non-fatal phase failure without failing the session.
func (s *PipelinePhaseState) Warn(p Phase, err error, now time.Time) {
	rec := s.Record(p)
	rec.Status = PhaseFailed
	if err != nil {
		rec.LastError = err.Error()
	}
	s.set(p, rec, now)
}

func (s *PipelinePhaseState) Skip(p Phase, reason string, now time.Time) {
	rec := s.Record(p)
	rec.Status = PhaseSkipped
	rec.LastError = reason
	s.set(p, rec, now)
}

// Invalidate resets p and all later phases to pending.
func (s *PipelinePhaseState) Invalidate(p Phase, now time.Time) {
	reset := false
	for _, candidate := range Phases {
		if candidate == p {
			reset = true
		}
		if reset {
			s.set(candidate, PhaseRecord{Status: PhasePending}, now)
		}
	}
}

func (s *PipelinePhaseState) set(p Phase, rec PhaseRecord, now time.Time) {
	if s.Phases == nil {
		s.Phases = make(map[Phase]PhaseRecord, len(Phases))
	}
	s.Phases[p] = rec
	s.UpdatedAt = now
}
