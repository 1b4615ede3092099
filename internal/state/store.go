// Package state persists the review lifecycle in PostgreSQL. One row exists
// per (provider, repository, change request); re-reviews reuse the row and
// keep its original creation time.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/redpen-ai/redpen/internal/review"
)

// ErrInvalidTransition is returned when a requested state change violates
// the lifecycle FSM.
var ErrInvalidTransition = errors.New("invalid review state transition")

const schema = `
CREATE TABLE IF NOT EXISTS review_states (
    provider          TEXT        NOT NULL,
    repository_id     TEXT        NOT NULL,
    change_request_id BIGINT      NOT NULL,
    request_id        TEXT        NOT NULL,
    state             TEXT        NOT NULL,
    error             TEXT,
    result            JSONB,
    published         BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL,
    completed_at      TIMESTAMPTZ,
    PRIMARY KEY (provider, repository_id, change_request_id)
);
CREATE INDEX IF NOT EXISTS review_states_completed_idx ON review_states (completed_at);
`

// Store is the PostgreSQL-backed review state store.
type Store struct {
	db *sql.DB
}

// Open connects, pings, and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool, for tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// SavePending records a freshly accepted request. A previous row for the
// same change request is replaced in the same transaction, preserving its
// original created_at so re-review history stays anchored.
func (s *Store) SavePending(ctx context.Context, req review.AsyncReviewRequest) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var createdAt time.Time
		err := tx.QueryRowContext(ctx,
			`SELECT created_at FROM review_states
			 WHERE provider = $1 AND repository_id = $2 AND change_request_id = $3
			 FOR UPDATE`,
			req.Provider, req.RepositoryID, req.ChangeRequestID).Scan(&createdAt)
		switch {
		case err == sql.ErrNoRows:
			createdAt = req.CreatedAt
		case err != nil:
			return fmt.Errorf("read existing state: %w", err)
		default:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM review_states
				 WHERE provider = $1 AND repository_id = $2 AND change_request_id = $3`,
				req.Provider, req.RepositoryID, req.ChangeRequestID); err != nil {
				return fmt.Errorf("delete previous state: %w", err)
			}
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO review_states
			   (provider, repository_id, change_request_id, request_id, state, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			req.Provider, req.RepositoryID, req.ChangeRequestID,
			req.RequestID, review.StatePending, createdAt, now); err != nil {
			return fmt.Errorf("insert pending state: %w", err)
		}
		return nil
	})
}

// MarkProcessing transitions PENDING → PROCESSING.
func (s *Store) MarkProcessing(ctx context.Context, req review.AsyncReviewRequest) error {
	return s.transition(ctx, req, review.StateProcessing, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE review_states SET state = $4, request_id = $5, updated_at = NOW()
			 WHERE provider = $1 AND repository_id = $2 AND change_request_id = $3`,
			req.Provider, req.RepositoryID, req.ChangeRequestID,
			review.StateProcessing, req.RequestID)
		return err
	})
}

// MarkCompleted transitions to COMPLETED and stores the result JSON in the
// same transaction, so the terminal state and the result are inseparable.
func (s *Store) MarkCompleted(ctx context.Context, req review.AsyncReviewRequest, result *review.ReviewResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.transition(ctx, req, review.StateCompleted, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE review_states
			 SET state = $4, result = $5, completed_at = NOW(), updated_at = NOW()
			 WHERE provider = $1 AND repository_id = $2 AND change_request_id = $3`,
			req.Provider, req.RepositoryID, req.ChangeRequestID,
			review.StateCompleted, payload)
		return err
	})
}

// MarkFailed transitions to FAILED with the cause. Legal from both PENDING
// and PROCESSING.
func (s *Store) MarkFailed(ctx context.Context, req review.AsyncReviewRequest, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.transition(ctx, req, review.StateFailed, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE review_states
			 SET state = $4, error = $5, completed_at = NOW(), updated_at = NOW()
			 WHERE provider = $1 AND repository_id = $2 AND change_request_id = $3`,
			req.Provider, req.RepositoryID, req.ChangeRequestID,
			review.StateFailed, msg)
		return err
	})
}

// MarkPublished flags a completed review's comments as delivered. Not an
// FSM state; publication is orthogonal metadata on the terminal row.
func (s *Store) MarkPublished(ctx context.Context, provider review.Provider, repositoryID string, changeRequestID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE review_states SET published = TRUE, updated_at = NOW()
		 WHERE provider = $1 AND repository_id = $2 AND change_request_id = $3`,
		provider, repositoryID, changeRequestID)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// Get loads the current lifecycle row.
func (s *Store) Get(ctx context.Context, provider review.Provider, repositoryID string, changeRequestID int64) (review.State, error) {
	var st string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM review_states
		 WHERE provider = $1 AND repository_id = $2 AND change_request_id = $3`,
		provider, repositoryID, changeRequestID).Scan(&st)
	if err == sql.ErrNoRows {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", fmt.Errorf("read state: %w", err)
	}
	return review.State(st), nil
}

// transition runs apply inside a transaction after verifying the FSM allows
// current → next. The row is locked for the duration, so concurrent workers
// serialize on the same change request.
func (s *Store) transition(ctx context.Context, req review.AsyncReviewRequest, next review.State, apply func(tx *sql.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM review_states
			 WHERE provider = $1 AND repository_id = $2 AND change_request_id = $3
			 FOR UPDATE`,
			req.Provider, req.RepositoryID, req.ChangeRequestID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: no state row for %s #%d", ErrInvalidTransition, req.RepositoryID, req.ChangeRequestID)
		}
		if err != nil {
			return fmt.Errorf("lock state row: %w", err)
		}
		if !review.State(current).CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
		}
		return apply(tx)
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
