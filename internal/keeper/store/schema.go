package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS outbox_jobs (
		id TEXT PRIMARY KEY,
		payload_digest TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		next_eligible_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_jobs_claim
		ON outbox_jobs (status, next_eligible_at, created_at)`,
	`CREATE TABLE IF NOT EXISTS outbox_tx_refs (
		job_id TEXT NOT NULL,
		network TEXT NOT NULL,
		chain TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		anchored_ts TIMESTAMPTZ,
		PRIMARY KEY (job_id, network, chain, tx_id)
	)`,
	`CREATE TABLE IF NOT EXISTS merkle_batches (
		id TEXT PRIMARY KEY,
		merkle_root TEXT NOT NULL,
		item_count INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		anchored_at TIMESTAMPTZ,
		tx_network TEXT,
		tx_chain TEXT,
		tx_id TEXT,
		tx_confirmed BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS merkle_proofs (
		job_id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES merkle_batches(id),
		leaf_index INTEGER NOT NULL,
		proof_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_merkle_proofs_batch_id
		ON merkle_proofs (batch_id)`,
}

// EnsureSchema creates the keeper-owned tables if they do not exist yet.
// Statements are idempotent, so running it on every startup is safe.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
