package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"notifyreplay/internal/types"
)

// Schema creates the replay_attempts ledger.
const Schema = `CREATE TABLE IF NOT EXISTS replay_attempts (
	correlation_id TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	event          TEXT NOT NULL,
	object_id      TEXT NOT NULL,
	destination    TEXT NOT NULL,
	status_code    INTEGER,
	outcome        TEXT NOT NULL,
	error          TEXT,
	latency_ms     BIGINT NOT NULL DEFAULT 0,
	attempted_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS replay_attempts_run_id_idx ON replay_attempts (run_id, attempted_at);`

var _ types.AttemptRecorder = (*AttemptRepository)(nil)

// AttemptRepository provides data access for the replay_attempts table.
type AttemptRepository struct {
	db DBTX
}

// NewAttemptRepository creates a new AttemptRepository backed by the given
// database connection (pool or transaction).
func NewAttemptRepository(db DBTX) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// EnsureSchema creates the ledger table if it does not exist.
func (r *AttemptRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create replay_attempts", err)
	}
	return nil
}

// RecordAttempt inserts one dispatch attempt. A zero status code (no response,
// dry run) and an empty error are stored as NULL.
func (r *AttemptRepository) RecordAttempt(ctx context.Context, a types.DeliveryAttempt) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO replay_attempts
		 (correlation_id, run_id, event, object_id, destination, status_code,
		  outcome, error, latency_ms, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.CorrelationID,
		a.RunID,
		a.Event,
		a.ObjectID,
		a.Destination,
		nilIfZero(a.StatusCode),
		string(a.Outcome),
		nilIfEmpty(a.Error),
		a.Latency.Milliseconds(),
		a.AttemptedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record replay attempt", err)
	}
	return nil
}

// ListByRun returns the attempts of a run in dispatch order.
func (r *AttemptRepository) ListByRun(ctx context.Context, runID string) ([]types.DeliveryAttempt, error) {
	rows, err := r.db.Query(ctx,
		`SELECT correlation_id, run_id, event, object_id, destination,
		        status_code, outcome, error, latency_ms, attempted_at
		 FROM replay_attempts
		 WHERE run_id = $1
		 ORDER BY attempted_at, correlation_id`,
		runID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list replay attempts", err)
	}
	defer rows.Close()

	var out []types.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan replay attempt", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate replay attempts", err)
	}
	return out, nil
}

func scanAttempt(row pgx.Row) (types.DeliveryAttempt, error) {
	var (
		a          types.DeliveryAttempt
		statusCode *int32
		outcome    string
		errText    *string
		latencyMS  int64
	)
	if err := row.Scan(
		&a.CorrelationID,
		&a.RunID,
		&a.Event,
		&a.ObjectID,
		&a.Destination,
		&statusCode,
		&outcome,
		&errText,
		&latencyMS,
		&a.AttemptedAt,
	); err != nil {
		return types.DeliveryAttempt{}, err
	}
	if statusCode != nil {
		a.StatusCode = int(*statusCode)
	}
	if errText != nil {
		a.Error = *errText
	}
	a.Outcome = types.DeliveryOutcome(outcome)
	a.Latency = time.Duration(latencyMS) * time.Millisecond
	return a, nil
}

func nilIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
