package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

func TestPhaseStateRepositoryLoadMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewPhaseStateRepository(db)
	mock.ExpectQuery("FROM session_phase_states").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}))

	if _, err := repo.Load(context.Background(), "sess-1"); err != domain.ErrStateNotFound {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPhaseStateRepositoryLoadDecodesState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	now := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	state := domain.NewPipelinePhaseState("sess-1", now)
	state.Complete(domain.PhaseFetch, []domain.ArtifactRef{{Key: "sess-1/input/manifest.json", Digest: "d1"}}, now)
	raw, _ := json.Marshal(state)

	repo := NewPhaseStateRepository(db)
	mock.ExpectQuery("FROM session_phase_states").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(raw))

	loaded, err := repo.Load(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !loaded.IsCompleted(domain.PhaseFetch) {
		t.Fatalf("expected fetch completed, got %+v", loaded.Record(domain.PhaseFetch))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPhaseStateRepositorySaveUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	state := domain.NewPipelinePhaseState("sess-2", now)
	state.Fail(domain.PhaseValidate, nil, now)

	repo := NewPhaseStateRepository(db)
	mock.ExpectExec("INSERT INTO session_phase_states").
		WithArgs("sess-2", "failed", "validate", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPhaseStateRepositoryListByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewPhaseStateRepository(db)
	mock.ExpectQuery("WHERE status = \\$1").
		WithArgs("failed", 100).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListByStatus(context.Background(), domain.SessionFailed, 0)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
