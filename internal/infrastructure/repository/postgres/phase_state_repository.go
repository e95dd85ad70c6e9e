package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// schemaLockID serializes bootstrap DDL across api and worker startups.
const schemaLockID int64 = 2026101401

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

type PhaseStateRepository struct {
	db *sql.DB
}

func NewPhaseStateRepository(db *sql.DB) *PhaseStateRepository {
	return &PhaseStateRepository{db: db}
}

func (r *PhaseStateRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS session_phase_states (
	session_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	failed_phase TEXT NOT NULL DEFAULT '',
	state JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_phase_states_status ON session_phase_states(status, updated_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *PhaseStateRepository) Load(ctx context.Context, sessionID string) (*domain.PipelinePhaseState, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
SELECT state
FROM session_phase_states
WHERE session_id = $1
`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("load phase state: %w", err)
	}

	var state domain.PipelinePhaseState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode phase state: %w", err)
	}
	return &state, nil
}

func (r *PhaseStateRepository) Save(ctx context.Context, state *domain.PipelinePhaseState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode phase state: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO session_phase_states (session_id, status, failed_phase, state, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (session_id) DO UPDATE SET
	status = EXCLUDED.status,
	failed_phase = EXCLUDED.failed_phase,
	state = EXCLUDED.state,
	updated_at = EXCLUDED.updated_at
`, state.SessionID, string(state.Status), string(state.FailedPhase), raw, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save phase state: %w", err)
	}
	return nil
}

// ListByStatus returns session ids in status, most recently updated first.
func (r *PhaseStateRepository) ListByStatus(ctx context.Context, status domain.SessionStatus, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT session_id
FROM session_phase_states
WHERE status = $1
ORDER BY updated_at DESC
LIMIT $2
`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list phase states: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan phase state: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase states: %w", err)
	}
	return out, nil
}
