package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/consolidation"
	"github.com/kirillkom/medical-chronology/internal/core/contract"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
)

type memArtifacts struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{data: make(map[string][]byte)}
}

func (m *memArtifacts) Save(_ context.Context, key string, r io.Reader) (domain.ArtifactRef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return domain.ArtifactRef{Key: key, Digest: digestOf(data)}, nil
}

func (m *memArtifacts) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open artifact", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memArtifacts) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *memArtifacts) Digest(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return digestOf(data), nil
}

func (m *memArtifacts) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

func (m *memArtifacts) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	return data, ok
}

func (m *memArtifacts) keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type memStates struct {
	mu     sync.Mutex
	states map[string][]byte
	saves  int
}

func newMemStates() *memStates {
	return &memStates{states: make(map[string][]byte)}
}

func (m *memStates) Load(_ context.Context, sessionID string) (*domain.PipelinePhaseState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.states[sessionID]
	if !ok {
		return nil, domain.ErrStateNotFound
	}
	var state domain.PipelinePhaseState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *memStates) Save(_ context.Context, state *domain.PipelinePhaseState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.SessionID] = data
	m.saves++
	return nil
}

type fakeDocumentStore struct {
	docs  []domain.RawDocument
	errs  []error
	calls int
}

func (f *fakeDocumentStore) Fetch(context.Context, string) ([]domain.RawDocument, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]domain.RawDocument, len(f.docs))
	copy(out, f.docs)
	return out, nil
}

type fakeRecognizer struct {
	unreadable map[string]bool
	calls      int
}

func (f *fakeRecognizer) Recognize(_ context.Context, raw domain.RawDocument) (domain.RecognizedDocument, error) {
	f.calls++
	if f.unreadable[raw.Name] {
		return domain.RecognizedDocument{}, &domain.UnreadableDocumentError{DocumentID: raw.ID, Name: raw.Name, Reason: "no text recognized"}
	}
	return domain.RecognizedDocument{
		ID:          raw.ID,
		Name:        raw.Name,
		Text:        string(raw.Data),
		Confidence:  1,
		Quality:     domain.QualityGood,
		Processable: true,
	}, nil
}

type generatorStep struct {
	set *domain.ChronologySet
	err error
}

type scriptedGenerator struct {
	steps    []generatorStep
	fallback generatorStep
	requests []domain.GenerationRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req domain.GenerationRequest) (*domain.ChronologySet, error) {
	g.requests = append(g.requests, req)
	step := g.fallback
	if len(g.steps) > 0 {
		step = g.steps[0]
		g.steps = g.steps[1:]
	}
	if step.err != nil {
		return nil, step.err
	}
	return step.set.Clone(), nil
}

type fakeUploader struct {
	err          error
	calls        int
	destinations []string
	names        []string
}

func (f *fakeUploader) Upload(_ context.Context, artifacts []domain.Artifact, destination string) error {
	f.calls++
	f.destinations = append(f.destinations, destination)
	for _, a := range artifacts {
		f.names = append(f.names, a.Name)
	}
	return f.err
}

// loopRetrier retries temporary collaborator failures up to attempts times.
type loopRetrier struct {
	attempts int
}

func (r loopRetrier) Do(ctx context.Context, _ string, fn func(context.Context) error) error {
	var err error
	for i := 0; i < r.attempts; i++ {
		err = fn(ctx)
		collab, ok := domain.AsCollaborator(err)
		if err == nil || !ok || !collab.Temporary() {
			return err
		}
	}
	return err
}

type countingLimiter struct {
	acquired int
	released int
}

func (l *countingLimiter) Acquire(context.Context) (func(), error) {
	l.acquired++
	return func() { l.released++ }, nil
}

// cancellingLimiter cancels the session context on its cancelOn-th acquire
// and then honors the context it was given.
type cancellingLimiter struct {
	cancelOn int
	cancel   context.CancelFunc
	acquired int
}

func (l *cancellingLimiter) Acquire(ctx context.Context) (func(), error) {
	l.acquired++
	if l.acquired == l.cancelOn {
		l.cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validMetadata() domain.Metadata {
	return domain.Metadata{PatientName: "John Doe", DateOfBirth: day(1980, time.May, 2), DateOfInjury: day(2023, time.October, 30)}
}

func mustEntry(e domain.Entry) domain.Entry {
	out, err := domain.NewEntry(e)
	if err != nil {
		panic(err)
	}
	return out
}

func visit(date time.Time, source, summary string) domain.Entry {
	return mustEntry(domain.Entry{
		Date:             date,
		Facility:         "General Hospital",
		Provider:         domain.Provider{First: "Ann", Last: "Lee", Credentials: "MD"},
		VisitType:        "Office Visit",
		Kind:             domain.KindStandard,
		Summary:          summary,
		SourceDocumentID: source,
	})
}

func rawDocs() []domain.RawDocument {
	return []domain.RawDocument{
		{Name: "er visit.txt", ContentType: "text/plain", Data: []byte("Emergency visit 11/01/2023. Neck pain.")},
		{Name: "follow up.txt", ContentType: "text/plain", Data: []byte("Follow up 11/15/2023. Improving.")},
	}
}

func recognizedDocs() []domain.RecognizedDocument {
	return []domain.RecognizedDocument{
		{ID: "doc-001", Processable: true, Order: 0, Quality: domain.QualityGood, Text: "Emergency visit 11/01/2023"},
		{ID: "doc-002", Processable: true, Order: 1, Quality: domain.QualityGood, Text: "Follow up 11/15/2023"},
	}
}

func goodDraft() *domain.ChronologySet {
	return &domain.ChronologySet{
		Metadata: validMetadata(),
		Entries: []domain.Entry{
			visit(day(2023, time.November, 1), "doc-001", "Chief Complaint: neck pain. Plan: rest."),
			visit(day(2023, time.November, 15), "doc-002", "Assessment: improving. Plan: follow up as needed."),
		},
	}
}

func newRefiner(gen *scriptedGenerator, limiter *countingLimiter) *RefineUseCase {
	var lim ports.GenerationLimiter
	if limiter != nil {
		lim = limiter
	}
	return NewRefineUseCase(
		gen,
		lim,
		contract.NewValidator(contract.DefaultConfig()),
		consolidation.NewEngine(consolidation.Config{MaxLapse: consolidation.DefaultMaxLapse}),
		DefaultMaxRounds,
		time.Second,
	)
}
