package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

const stateFileName = "state.json"

// StateStore keeps phase state next to the session artifacts, for
// deployments without Postgres.
type StateStore struct {
	storage *Storage
}

func NewStateStore(storage *Storage) *StateStore {
	return &StateStore{storage: storage}
}

func (s *StateStore) Load(_ context.Context, sessionID string) (*domain.PipelinePhaseState, error) {
	target, err := s.storage.resolve(filepath.ToSlash(filepath.Join(sessionID, stateFileName)))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrStateNotFound
	}
	if err != nil {
		return nil, classify("read phase state", err)
	}
	var state domain.PipelinePhaseState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode phase state: %w", err)
	}
	return &state, nil
}

func (s *StateStore) Save(_ context.Context, state *domain.PipelinePhaseState) error {
	if state == nil || !domain.ValidSessionID(state.SessionID) {
		return domain.WrapError(domain.ErrInvalidInput, "save phase state", errors.New("invalid session id"))
	}
	target, err := s.storage.resolve(filepath.ToSlash(filepath.Join(state.SessionID, stateFileName)))
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode phase state: %w", err)
	}
	return writeFileAtomic(target, data)
}
