package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/provenix/evidence-keeper/internal/keeper/domain"
)

// BatchStore is the Postgres implementation of the batch anchor's durable
// state: batch rows, per-item proof rows, and the member-job done marking.
type BatchStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewBatchStore creates a new BatchStore instance.
func NewBatchStore(db *sqlx.DB, logger *slog.Logger) *BatchStore {
	return &BatchStore{
		db:     db,
		logger: logger,
	}
}

// InsertBatch persists an unanchored batch row.
func (s *BatchStore) InsertBatch(ctx context.Context, b *domain.MerkleBatch) error {
	query := `
		INSERT INTO merkle_batches (id, merkle_root, item_count, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, b.ID, b.MerkleRoot, b.ItemCount, b.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// InsertProof persists one item's serialized proof.
func (s *BatchStore) InsertProof(ctx context.Context, jobID, batchID string, leafIndex int, proofJSON string) error {
	query := `
		INSERT INTO merkle_proofs (job_id, batch_id, leaf_index, proof_json)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE SET batch_id = EXCLUDED.batch_id, leaf_index = EXCLUDED.leaf_index, proof_json = EXCLUDED.proof_json
	`
	if _, err := s.db.ExecContext(ctx, query, jobID, batchID, leafIndex, proofJSON); err != nil {
		return fmt.Errorf("failed to insert proof: %w", err)
	}
	return nil
}

// MarkBatchAnchored fills the batch's tx fields and anchored_at together,
// keeping the all-or-nothing invariant on those columns.
func (s *BatchStore) MarkBatchAnchored(ctx context.Context, batchID string, tx *domain.ChainTxRef, anchoredAt time.Time) error {
	query := `
		UPDATE merkle_batches
		SET anchored_at = $1, tx_network = $2, tx_chain = $3, tx_id = $4, tx_confirmed = $5
		WHERE id = $6
	`
	if _, err := s.db.ExecContext(ctx, query, anchoredAt, tx.Network, tx.Chain, tx.TxID, tx.Confirmed, batchID); err != nil {
		return fmt.Errorf("failed to mark batch anchored: %w", err)
	}
	return nil
}

// MarkJobsDone flips every member job's outbox status to done.
func (s *BatchStore) MarkJobsDone(ctx context.Context, jobIDs []string, at time.Time) error {
	query := `UPDATE outbox_jobs SET status = $1, updated_at = $2 WHERE id = ANY($3)`
	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusDone, at, pq.Array(jobIDs)); err != nil {
		return fmt.Errorf("failed to mark batch jobs done: %w", err)
	}
	return nil
}

// GetProof joins a job's proof to its batch. Jobs without a proof and jobs
// whose batch never anchored both come back as domain.ErrProofNotFound.
func (s *BatchStore) GetProof(ctx context.Context, jobID string) (string, *domain.ChainTxRef, error) {
	query := `
		SELECT p.proof_json, b.tx_network, b.tx_chain, b.tx_id, b.tx_confirmed
		FROM merkle_proofs p
		JOIN merkle_batches b ON p.batch_id = b.id
		WHERE p.job_id = $1
	`

	var row struct {
		ProofJSON   string         `db:"proof_json"`
		TxNetwork   sql.NullString `db:"tx_network"`
		TxChain     sql.NullString `db:"tx_chain"`
		TxID        sql.NullString `db:"tx_id"`
		TxConfirmed bool           `db:"tx_confirmed"`
	}

	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, domain.ErrProofNotFound
		}
		return "", nil, fmt.Errorf("failed to get proof: %w", err)
	}

	if !row.TxNetwork.Valid || !row.TxChain.Valid || !row.TxID.Valid {
		// Proof rows exist before the anchor call resolves; until the batch
		// actually anchors, the proof is not useful to callers.
		return "", nil, domain.ErrProofNotFound
	}

	return row.ProofJSON, &domain.ChainTxRef{
		JobID:     jobID,
		Network:   row.TxNetwork.String,
		Chain:     row.TxChain.String,
		TxID:      row.TxID.String,
		Confirmed: row.TxConfirmed,
	}, nil
}

// AnchoredTotals aggregates batch and item counts over anchored batches.
func (s *BatchStore) AnchoredTotals(ctx context.Context) (int, int, error) {
	query := `
		SELECT COUNT(*) AS batches, COALESCE(SUM(item_count), 0) AS items
		FROM merkle_batches
		WHERE anchored_at IS NOT NULL
	`

	var row struct {
		Batches int `db:"batches"`
		Items   int `db:"items"`
	}
	if err := s.db.GetContext(ctx, &row, query); err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate batches: %w", err)
	}

	return row.Batches, row.Items, nil
}
