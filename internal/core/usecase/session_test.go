package usecase

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/consolidation"
	"github.com/kirillkom/medical-chronology/internal/core/contract"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

type sessionFixture struct {
	docs       *fakeDocumentStore
	recognizer *fakeRecognizer
	generator  *scriptedGenerator
	uploader   *fakeUploader
	artifacts  *memArtifacts
	states     *memStates
	observer   *recordingObserver
}

func newSessionFixture() *sessionFixture {
	return &sessionFixture{
		docs:       &fakeDocumentStore{docs: rawDocs()},
		recognizer: &fakeRecognizer{},
		generator:  &scriptedGenerator{fallback: generatorStep{set: goodDraft()}},
		uploader:   &fakeUploader{},
		artifacts:  newMemArtifacts(),
		states:     newMemStates(),
		observer:   &recordingObserver{},
	}
}

func (f *sessionFixture) useCase(cfg SessionConfig) *SessionUseCase {
	clock := time.Date(2024, time.March, 1, 9, 30, 0, 0, time.UTC)
	return NewSessionUseCase(SessionDeps{
		Documents:  f.docs,
		Recognizer: f.recognizer,
		Generator:  f.generator,
		Uploader:   f.uploader,
		Artifacts:  f.artifacts,
		States:     f.states,
		Retrier:    loopRetrier{attempts: 3},
		Observer:   f.observer,
		Refiner:    newRefiner(f.generator, nil),
		Clock:      func() time.Time { return clock },
	}, cfg)
}

type recordingObserver struct {
	phases   []string
	retried  int
	finished []domain.SessionStatus
}

func (o *recordingObserver) PhaseFinished(phase domain.Phase, outcome string, _ time.Duration) {
	o.phases = append(o.phases, string(phase)+":"+outcome)
}

func (o *recordingObserver) PhaseRetried(domain.Phase) { o.retried++ }

func (o *recordingObserver) RefineRounds(int, bool) {}

func (o *recordingObserver) SessionFinished(status domain.SessionStatus) {
	o.finished = append(o.finished, status)
}

func sessionRequest() domain.SessionRequest {
	return domain.SessionRequest{
		SessionID:   "pt-1_20240301_093000",
		Reference:   "records/pt-1",
		Destination: "gs://bucket/chronologies",
		Metadata:    validMetadata(),
	}
}

func TestSessionRunCompletesAllPhases(t *testing.T) {
	f := newSessionFixture()
	uc := f.useCase(DefaultSessionConfig())

	res, err := uc.Run(context.Background(), sessionRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != domain.SessionDone {
		t.Fatalf("expected done, got %s", res.Status)
	}
	if res.Documents != 2 || res.Entries != 2 {
		t.Fatalf("expected 2 documents and 2 entries, got %d/%d", res.Documents, res.Entries)
	}

	for _, key := range []string{
		"pt-1_20240301_093000/input/manifest.json",
		"pt-1_20240301_093000/input/001_er_visit.txt",
		"pt-1_20240301_093000/extracted/doc-001.txt",
		"pt-1_20240301_093000/extracted/documents.json",
		"pt-1_20240301_093000/drafts/draft.json",
		"pt-1_20240301_093000/drafts/report.json",
		"pt-1_20240301_093000/output/chronology.md",
		"pt-1_20240301_093000/output/chronology.json",
		"pt-1_20240301_093000/output/summary.md",
		"pt-1_20240301_093000/output/gaps.md",
	} {
		if _, ok := f.artifacts.get(key); !ok {
			t.Fatalf("expected artifact %s, have %v", key, f.artifacts.keys(""))
		}
	}

	narrative, _ := f.artifacts.get("pt-1_20240301_093000/output/chronology.md")
	if !strings.HasPrefix(string(narrative), domain.NarrativeTitle+"\nJOHN DOE\n") {
		t.Fatalf("unexpected narrative header:\n%s", narrative)
	}

	if f.uploader.calls != 1 || f.uploader.destinations[0] != "gs://bucket/chronologies/pt-1_20240301_093000" {
		t.Fatalf("unexpected upload: calls=%d dest=%v", f.uploader.calls, f.uploader.destinations)
	}
	if want := []string{"chronology.md", "chronology.json", "summary.md", "gaps.md"}; !slices.Equal(f.uploader.names, want) {
		t.Fatalf("expected uploaded %v, got %v", want, f.uploader.names)
	}

	state, err := f.states.Load(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	for _, p := range domain.Phases {
		if !state.IsCompleted(p) {
			t.Fatalf("expected phase %s completed, got %s", p, state.Record(p).Status)
		}
	}
	if len(f.observer.finished) != 1 || f.observer.finished[0] != domain.SessionDone {
		t.Fatalf("expected one done notification, got %v", f.observer.finished)
	}
}

func TestSessionRunResumesCompletedPhases(t *testing.T) {
	f := newSessionFixture()
	f.generator.steps = []generatorStep{{err: errors.New("model not loaded")}}
	uc := f.useCase(DefaultSessionConfig())
	req := sessionRequest()

	res, err := uc.Run(context.Background(), req)
	var phaseErr *domain.PhaseError
	if !errors.As(err, &phaseErr) || phaseErr.Phase != domain.PhaseGenerate {
		t.Fatalf("expected generate phase error, got %v", err)
	}
	if res.Status != domain.SessionFailed || res.FailedPhase != domain.PhaseGenerate {
		t.Fatalf("expected failed(generate), got %s(%s)", res.Status, res.FailedPhase)
	}
	fetches, recognitions := f.docs.calls, f.recognizer.calls

	res, err = uc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Status != domain.SessionDone {
		t.Fatalf("expected done, got %s", res.Status)
	}
	if f.docs.calls != fetches || f.recognizer.calls != recognitions {
		t.Fatalf("completed phases re-ran: fetch %d->%d recognize %d->%d", fetches, f.docs.calls, recognitions, f.recognizer.calls)
	}
	if !slices.Equal(res.Skipped, []domain.Phase{domain.PhaseFetch, domain.PhaseRecognize}) {
		t.Fatalf("expected fetch and recognize resumed, got %v", res.Skipped)
	}
}

func TestSessionRunRerunsPhaseWithMissingArtifact(t *testing.T) {
	f := newSessionFixture()
	uc := f.useCase(DefaultSessionConfig())
	req := sessionRequest()

	if _, err := uc.Run(context.Background(), req); err != nil {
		t.Fatalf("first run: %v", err)
	}
	f.artifacts.remove("pt-1_20240301_093000/extracted/documents.json")

	res, err := uc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.docs.calls != 1 {
		t.Fatalf("expected fetch resumed, got %d calls", f.docs.calls)
	}
	if f.recognizer.calls != 4 {
		t.Fatalf("expected recognize to re-run for both documents, got %d calls", f.recognizer.calls)
	}
	if !slices.Equal(res.Skipped, []domain.Phase{domain.PhaseFetch}) {
		t.Fatalf("expected only fetch resumed, got %v", res.Skipped)
	}
	if _, ok := f.artifacts.get("pt-1_20240301_093000/extracted/documents.json"); !ok {
		t.Fatalf("expected documents.json rewritten")
	}
}

func TestSessionRunTamperedArtifactInvalidatesPhase(t *testing.T) {
	f := newSessionFixture()
	uc := f.useCase(DefaultSessionConfig())
	req := sessionRequest()

	if _, err := uc.Run(context.Background(), req); err != nil {
		t.Fatalf("first run: %v", err)
	}
	generated := len(f.generator.requests)
	key := "pt-1_20240301_093000/drafts/draft.json"
	if _, err := f.artifacts.Save(context.Background(), key, strings.NewReader("{}")); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	res, err := uc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(f.generator.requests) != generated+1 {
		t.Fatalf("expected generate to re-run once, got %d new calls", len(f.generator.requests)-generated)
	}
	if !slices.Equal(res.Skipped, []domain.Phase{domain.PhaseFetch, domain.PhaseRecognize}) {
		t.Fatalf("unexpected resumed phases %v", res.Skipped)
	}
}

func TestSessionRunUploadFailureIsWarning(t *testing.T) {
	f := newSessionFixture()
	f.uploader.err = errors.New("bucket unavailable")
	uc := f.useCase(DefaultSessionConfig())

	res, err := uc.Run(context.Background(), sessionRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != domain.SessionDone {
		t.Fatalf("expected done, got %s", res.Status)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "bucket unavailable") {
		t.Fatalf("expected upload warning, got %v", res.Warnings)
	}
	state, _ := f.states.Load(context.Background(), res.SessionID)
	if state.Record(domain.PhaseUpload).Status != domain.PhaseFailed {
		t.Fatalf("expected upload phase failed, got %s", state.Record(domain.PhaseUpload).Status)
	}
	if !slices.Contains(f.observer.phases, "upload:warning") {
		t.Fatalf("expected upload warning outcome, got %v", f.observer.phases)
	}
}

func TestSessionRunSkipsUploadWithoutDestination(t *testing.T) {
	f := newSessionFixture()
	uc := f.useCase(DefaultSessionConfig())
	req := sessionRequest()
	req.Destination = ""

	res, err := uc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.uploader.calls != 0 {
		t.Fatalf("expected no upload, got %d", f.uploader.calls)
	}
	state, _ := f.states.Load(context.Background(), res.SessionID)
	if state.Record(domain.PhaseUpload).Status != domain.PhaseSkipped {
		t.Fatalf("expected upload skipped, got %s", state.Record(domain.PhaseUpload).Status)
	}
}

func TestSessionRunRetriesTemporaryFetchFailure(t *testing.T) {
	f := newSessionFixture()
	f.docs.errs = []error{domain.WrapError(domain.ErrTemporary, "list", errors.New("connection reset"))}
	uc := f.useCase(DefaultSessionConfig())

	res, err := uc.Run(context.Background(), sessionRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.docs.calls != 2 {
		t.Fatalf("expected 2 fetch calls, got %d", f.docs.calls)
	}
	state, _ := f.states.Load(context.Background(), res.SessionID)
	if got := state.Record(domain.PhaseFetch).Attempts; got != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", got)
	}
	if f.observer.retried != 1 {
		t.Fatalf("expected one retry notification, got %d", f.observer.retried)
	}
}

func TestSessionRunFailsOnEmptyReference(t *testing.T) {
	f := newSessionFixture()
	f.docs.docs = nil
	uc := f.useCase(DefaultSessionConfig())

	res, err := uc.Run(context.Background(), sessionRequest())
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if res.FailedPhase != domain.PhaseFetch {
		t.Fatalf("expected fetch failure, got %s", res.FailedPhase)
	}
}

func TestSessionRunKeepsUnreadableDocumentAsUnprocessable(t *testing.T) {
	f := newSessionFixture()
	f.docs.docs = append(f.docs.docs, domain.RawDocument{Name: "scan.pdf", ContentType: "application/pdf", Data: []byte{0x00}})
	f.recognizer.unreadable = map[string]bool{"scan.pdf": true}
	uc := f.useCase(DefaultSessionConfig())

	res, err := uc.Run(context.Background(), sessionRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Documents != 3 {
		t.Fatalf("expected 3 documents, got %d", res.Documents)
	}
	if got := len(f.generator.requests[0].Documents); got != 2 {
		t.Fatalf("expected only processable documents sent to the generator, got %d", got)
	}
	gaps, _ := f.artifacts.get("pt-1_20240301_093000/output/gaps.md")
	if !strings.Contains(string(gaps), "scan.pdf") {
		t.Fatalf("expected gap report to list the unreadable document:\n%s", gaps)
	}
	if _, ok := f.artifacts.get("pt-1_20240301_093000/extracted/doc-003.txt"); ok {
		t.Fatalf("unexpected extracted text for unreadable document")
	}
}

func TestSessionRunExhaustedValidationFailsWithReport(t *testing.T) {
	f := newSessionFixture()
	broken := goodDraft()
	broken.Entries[0].Summary = "**Bold** summary."
	f.generator.fallback = generatorStep{set: broken}
	uc := f.useCase(DefaultSessionConfig())

	res, err := uc.Run(context.Background(), sessionRequest())
	if !domain.IsKind(err, domain.ErrContractUnsatisfied) {
		t.Fatalf("expected contract unsatisfied, got %v", err)
	}
	if res.Status != domain.SessionFailed || res.FailedPhase != domain.PhaseValidate {
		t.Fatalf("expected failed(validate), got %s(%s)", res.Status, res.FailedPhase)
	}
	if res.RoundsUsed != DefaultMaxRounds {
		t.Fatalf("expected %d rounds, got %d", DefaultMaxRounds, res.RoundsUsed)
	}
	if len(f.generator.requests) != 1+DefaultMaxRounds {
		t.Fatalf("expected %d generator calls, got %d", 1+DefaultMaxRounds, len(f.generator.requests))
	}
	if _, ok := f.artifacts.get("pt-1_20240301_093000/drafts/report.json"); !ok {
		t.Fatalf("expected report.json persisted for failed validation")
	}
	if len(f.artifacts.keys("pt-1_20240301_093000/output/")) != 0 {
		t.Fatalf("expected no outputs for a failed session")
	}
}

func TestSessionRunCancelledBeforeStart(t *testing.T) {
	f := newSessionFixture()
	uc := f.useCase(DefaultSessionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := uc.Run(ctx, sessionRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if res.Status != domain.SessionCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}
	if f.docs.calls != 0 {
		t.Fatalf("expected no fetch after cancellation")
	}
}

func TestSessionRunCancelledDuringCorrectionFinishesPhase(t *testing.T) {
	f := newSessionFixture()
	broken := goodDraft()
	broken.Entries[0].Summary = "**Bold** summary."
	f.generator.steps = []generatorStep{{set: broken}, {set: goodDraft()}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := &cancellingLimiter{cancelOn: 1, cancel: cancel}

	uc := f.useCase(DefaultSessionConfig())
	uc.deps.Refiner = NewRefineUseCase(
		f.generator,
		limiter,
		contract.NewValidator(contract.DefaultConfig()),
		consolidation.NewEngine(consolidation.Config{MaxLapse: consolidation.DefaultMaxLapse}),
		DefaultMaxRounds,
		time.Second,
	)

	res, err := uc.Run(ctx, sessionRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if res.Status != domain.SessionCancelled || res.FailedPhase != "" {
		t.Fatalf("expected cancelled without failed phase, got %s(%s)", res.Status, res.FailedPhase)
	}
	if limiter.acquired != 1 || res.RoundsUsed != 1 {
		t.Fatalf("expected one correction round, got acquired=%d rounds=%d", limiter.acquired, res.RoundsUsed)
	}

	state, err := f.states.Load(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.Status != domain.SessionCancelled || !state.IsCompleted(domain.PhaseValidate) {
		t.Fatalf("expected validate completed and session cancelled, got %s %+v", state.Status, state.Record(domain.PhaseValidate))
	}
	if state.Record(domain.PhasePersist).Status != domain.PhasePending {
		t.Fatalf("persist should not start after cancellation, got %+v", state.Record(domain.PhasePersist))
	}
}

func TestSessionRunRejectsUnsafeSessionID(t *testing.T) {
	uc := newSessionFixture().useCase(DefaultSessionConfig())
	req := sessionRequest()
	req.SessionID = "../escape"

	if _, err := uc.Run(context.Background(), req); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
