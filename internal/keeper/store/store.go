// Package store is the durable state layer for the anchoring engine: the
// outbox job table, per-job chain transaction references, and the batch and
// proof tables consumed by the batch anchor.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/provenix/evidence-keeper/internal/keeper/domain"
)

// JobStore handles all outbox database operations.
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewJobStore creates a new JobStore instance.
func NewJobStore(db *sqlx.DB, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a queued job for the given digest. If id is empty one
// is generated. Idempotent on id: resubmitting an existing id returns the
// id with created=false rather than an error.
func (s *JobStore) CreateJob(ctx context.Context, id, digestHex string) (string, bool, error) {
	if id == "" {
		id = uuid.New().String()
	}

	query := `
		INSERT INTO outbox_jobs (id, payload_digest, status, attempts, last_error, created_at, updated_at, next_eligible_at)
		VALUES ($1, $2, $3, 0, '', $4, $4, $4)
		ON CONFLICT (id) DO NOTHING
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, id, digestHex, domain.JobStatusQueued, now)
	if err != nil {
		return "", false, fmt.Errorf("failed to create job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		s.logger.Debug("Job already exists, submission is a no-op",
			slog.String("job_id", id),
		)
		return id, false, nil
	}

	return id, true, nil
}

// GetJob retrieves a job by id.
func (s *JobStore) GetJob(ctx context.Context, id string) (*domain.EvidenceJob, error) {
	query := `
		SELECT id, payload_digest, status, attempts, last_error, created_at, updated_at, next_eligible_at
		FROM outbox_jobs
		WHERE id = $1
	`

	var job domain.EvidenceJob
	if err := s.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ClaimNext atomically claims the oldest eligible queued job: flips it to
// in_progress and increments attempts inside one transaction, so two
// concurrent workers can never claim the same job. Returns nil when no job
// is eligible.
func (s *JobStore) ClaimNext(ctx context.Context) (*domain.EvidenceJob, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id, payload_digest, status, attempts, last_error, created_at, updated_at, next_eligible_at
		FROM outbox_jobs
		WHERE status = $1 AND next_eligible_at <= $2
		ORDER BY next_eligible_at ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	now := time.Now().UTC()
	var job domain.EvidenceJob
	if err := tx.GetContext(ctx, &job, selectQuery, domain.JobStatusQueued, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select next job: %w", err)
	}

	updateQuery := `
		UPDATE outbox_jobs
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3
	`
	if _, err := tx.ExecContext(ctx, updateQuery, domain.JobStatusInProgress, now, job.ID); err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = domain.JobStatusInProgress
	job.Attempts++

	s.logger.Debug("Job claimed",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
	)

	return &job, nil
}

// MarkDone sets the job status to done.
func (s *JobStore) MarkDone(ctx context.Context, id string) error {
	query := `UPDATE outbox_jobs SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusDone, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	return nil
}

// MarkTxAndDone persists the unconfirmed transaction reference and sets the
// job status to done in one transaction. Done means successfully submitted;
// chain confirmation is tracked separately by the confirmation loop.
func (s *JobStore) MarkTxAndDone(ctx context.Context, id string, txRef *domain.ChainTxRef) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT INTO outbox_tx_refs (job_id, network, chain, tx_id, confirmed, anchored_ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, network, chain, tx_id) DO UPDATE SET confirmed = EXCLUDED.confirmed, anchored_ts = EXCLUDED.anchored_ts
	`
	if _, err := tx.ExecContext(ctx, insertQuery, id, txRef.Network, txRef.Chain, txRef.TxID, txRef.Confirmed, txRef.Timestamp); err != nil {
		return fmt.Errorf("failed to insert tx ref: %w", err)
	}

	updateQuery := `UPDATE outbox_jobs SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, updateQuery, domain.JobStatusDone, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx ref: %w", err)
	}

	return nil
}

// MarkFailedOrBackoff applies the retry policy. Temporary failures requeue
// the job with exponential backoff plus jitter; permanent failures park it
// as failed, where only resubmission can recover it.
func (s *JobStore) MarkFailedOrBackoff(ctx context.Context, id, reason string, temporary bool) error {
	now := time.Now().UTC()

	if !temporary {
		query := `
			UPDATE outbox_jobs
			SET status = $1, last_error = $2, updated_at = $3, next_eligible_at = $3
			WHERE id = $4
		`
		if _, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, reason, now, id); err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}

		s.logger.Warn("Job failed permanently",
			slog.String("job_id", id),
			slog.String("reason", reason),
		)
		return nil
	}

	var attempts int
	if err := s.db.GetContext(ctx, &attempts, `SELECT attempts FROM outbox_jobs WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to read attempts: %w", err)
	}

	delay := Backoff(attempts) + jitter()
	next := now.Add(delay)

	query := `
		UPDATE outbox_jobs
		SET status = $1, last_error = $2, updated_at = $3, next_eligible_at = $4
		WHERE id = $5
	`
	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusQueued, reason, now, next, id); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	s.logger.Info("Job requeued with backoff",
		slog.String("job_id", id),
		slog.Int("attempts", attempts),
		slog.Duration("backoff", delay),
		slog.String("reason", reason),
	)

	return nil
}

// UnconfirmedTxRefs returns every transaction reference not yet confirmed
// on chain.
func (s *JobStore) UnconfirmedTxRefs(ctx context.Context) ([]domain.ChainTxRef, error) {
	query := `
		SELECT job_id, network, chain, tx_id, confirmed, anchored_ts
		FROM outbox_tx_refs
		WHERE confirmed = FALSE
	`

	var refs []domain.ChainTxRef
	if err := s.db.SelectContext(ctx, &refs, query); err != nil {
		return nil, fmt.Errorf("failed to list unconfirmed tx refs: %w", err)
	}

	return refs, nil
}

// UpdateTxConfirmation persists a changed confirmation flag.
func (s *JobStore) UpdateTxConfirmation(ctx context.Context, txRef *domain.ChainTxRef) error {
	query := `
		UPDATE outbox_tx_refs
		SET confirmed = $1
		WHERE tx_id = $2 AND network = $3 AND chain = $4
	`
	if _, err := s.db.ExecContext(ctx, query, txRef.Confirmed, txRef.TxID, txRef.Network, txRef.Chain); err != nil {
		return fmt.Errorf("failed to update tx confirmation: %w", err)
	}
	return nil
}
