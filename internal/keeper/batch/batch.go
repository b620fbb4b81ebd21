// Package batch aggregates many evidence digests into a single anchored
// Merkle root, keeping a per-item membership proof for each digest.
//
// Items accumulate in one in-memory pending batch behind a mutex. A batch
// flushes when it reaches max size, when the timeout driver finds it old
// enough, or when Flush drains it explicitly. The pending batch is not
// durable: a crash loses unflushed items and their jobs stay wherever the
// caller left them.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/provenix/evidence-keeper/internal/keeper/anchor"
	"github.com/provenix/evidence-keeper/internal/keeper/domain"
	"github.com/provenix/evidence-keeper/internal/keeper/merkle"
	"github.com/provenix/evidence-keeper/internal/metrics"
)

// Item is one evidence digest queued for batch anchoring.
type Item struct {
	JobID     string
	DigestHex string
}

// Store is the durable side of batch anchoring. Implemented on Postgres by
// internal/keeper/store; tests use an in-memory fake.
type Store interface {
	InsertBatch(ctx context.Context, b *domain.MerkleBatch) error
	InsertProof(ctx context.Context, jobID, batchID string, leafIndex int, proofJSON string) error
	MarkBatchAnchored(ctx context.Context, batchID string, tx *domain.ChainTxRef, anchoredAt time.Time) error
	MarkJobsDone(ctx context.Context, jobIDs []string, at time.Time) error
	// GetProof returns the serialized proof and the batch's tx reference,
	// or domain.ErrProofNotFound if no proof exists or the batch has not
	// anchored yet.
	GetProof(ctx context.Context, jobID string) (string, *domain.ChainTxRef, error)
	// AnchoredTotals aggregates over anchored batches only.
	AnchoredTotals(ctx context.Context) (batches int, items int, err error)
}

// Config holds batch trigger thresholds.
type Config struct {
	// MaxBatchSize flushes the batch as soon as it holds this many items.
	MaxBatchSize int
	// MaxBatchAge is the age after which the timeout driver flushes a batch
	// holding at least MinBatchSize items.
	MaxBatchAge time.Duration
	// MinBatchSize is the minimum item count for an age-triggered flush.
	MinBatchSize int
}

// DefaultConfig returns the production trigger thresholds.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 100,
		MaxBatchAge:  60 * time.Second,
		MinBatchSize: 1,
	}
}

type pendingBatch struct {
	items     []Item
	createdAt time.Time
}

// Anchor accumulates evidence items and anchors them as Merkle batches.
type Anchor struct {
	store    Store
	provider anchor.Provider
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	pending *pendingBatch
}

// NewAnchor creates a batch anchor. The pending batch starts empty.
func NewAnchor(store Store, provider anchor.Provider, cfg Config, logger *slog.Logger) *Anchor {
	return &Anchor{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// AddItem appends an evidence item to the pending batch, creating the batch
// if absent. Reaching MaxBatchSize swaps the items out under the lock and
// flushes after releasing it, so concurrent AddItem callers never block on
// network or database I/O — but the triggering caller waits for the flush.
func (a *Anchor) AddItem(ctx context.Context, jobID, digestHex string) error {
	a.mu.Lock()

	if a.pending == nil {
		a.pending = &pendingBatch{createdAt: time.Now().UTC()}
	}
	a.pending.items = append(a.pending.items, Item{JobID: jobID, DigestHex: digestHex})
	metrics.PendingBatchItems.Set(float64(len(a.pending.items)))

	if len(a.pending.items) >= a.cfg.MaxBatchSize {
		items := a.pending.items
		a.pending = nil
		metrics.PendingBatchItems.Set(0)
		a.mu.Unlock()
		return a.flushBatch(ctx, items)
	}

	a.mu.Unlock()
	return nil
}

// CheckTimeout flushes the pending batch if it is old enough and holds at
// least MinBatchSize items. Called by a periodic driver; otherwise a no-op.
// Returns true if a flush happened.
func (a *Anchor) CheckTimeout(ctx context.Context) (bool, error) {
	a.mu.Lock()

	if a.pending == nil {
		a.mu.Unlock()
		return false, nil
	}

	age := time.Since(a.pending.createdAt)
	if age < a.cfg.MaxBatchAge || len(a.pending.items) < a.cfg.MinBatchSize {
		a.mu.Unlock()
		return false, nil
	}

	items := a.pending.items
	a.pending = nil
	metrics.PendingBatchItems.Set(0)
	a.mu.Unlock()

	if err := a.flushBatch(ctx, items); err != nil {
		return false, err
	}
	return true, nil
}

// Flush drains whatever is pending, regardless of size or age. Used for
// forced draining at shutdown. Flushing an empty batch performs no I/O.
func (a *Anchor) Flush(ctx context.Context) error {
	a.mu.Lock()

	var items []Item
	if a.pending != nil {
		items = a.pending.items
		a.pending = nil
		metrics.PendingBatchItems.Set(0)
	}
	a.mu.Unlock()

	if len(items) == 0 {
		return nil
	}
	return a.flushBatch(ctx, items)
}

// flushBatch builds the Merkle tree, persists the batch and per-item proof
// rows, then anchors the root. Batch and proof rows are written before the
// anchor call so proofs stay auditable even when the anchor fails. An
// anchor failure is contained to this batch and is not retried.
func (a *Anchor) flushBatch(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	leaves := make([]string, len(items))
	for i, item := range items {
		leaves[i] = item.DigestHex
	}

	tree, err := merkle.NewTree(leaves)
	if err != nil {
		return fmt.Errorf("failed to build merkle tree: %w", err)
	}
	root := tree.Root()

	batchID := "batch_" + uuid.New().String()
	now := time.Now().UTC()

	if err := a.store.InsertBatch(ctx, &domain.MerkleBatch{
		ID:         batchID,
		MerkleRoot: root,
		ItemCount:  len(items),
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("failed to persist batch: %w", err)
	}

	for i, item := range items {
		proof := tree.Proof(i)
		if proof == nil {
			continue
		}
		proofJSON, err := json.Marshal(proof)
		if err != nil {
			return fmt.Errorf("failed to encode proof for job %s: %w", item.JobID, err)
		}
		if err := a.store.InsertProof(ctx, item.JobID, batchID, i, string(proofJSON)); err != nil {
			return fmt.Errorf("failed to persist proof for job %s: %w", item.JobID, err)
		}
	}

	ev := anchor.Evidence{
		ID:          batchID,
		DigestHex:   root,
		CreatedAt:   now,
		PayloadMime: "application/x-merkle-root",
		Metadata: map[string]any{
			"type":       "merkle_batch",
			"item_count": len(items),
		},
	}

	txRef, err := a.provider.Anchor(ctx, ev)
	if err != nil {
		// Batch and proof rows remain unanchored for later inspection.
		metrics.BatchAnchorFailures.Inc()
		a.logger.Error("Failed to anchor batch",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	anchoredAt := time.Now().UTC()
	if err := a.store.MarkBatchAnchored(ctx, batchID, txRef, anchoredAt); err != nil {
		return fmt.Errorf("failed to record batch anchor: %w", err)
	}

	jobIDs := make([]string, len(items))
	for i, item := range items {
		jobIDs[i] = item.JobID
	}
	if err := a.store.MarkJobsDone(ctx, jobIDs, anchoredAt); err != nil {
		return fmt.Errorf("failed to mark batch jobs done: %w", err)
	}

	metrics.BatchesAnchored.Inc()
	a.logger.Info("Batch anchored",
		slog.String("batch_id", batchID),
		slog.Int("item_count", len(items)),
		slog.String("merkle_root", root),
		slog.String("tx_id", txRef.TxID),
	)

	return nil
}

// GetProof returns the Merkle proof and batch transaction reference for a
// job. Unknown jobs and jobs whose batch has not anchored yet both return
// domain.ErrProofNotFound.
func (a *Anchor) GetProof(ctx context.Context, jobID string) (*merkle.Proof, *domain.ChainTxRef, error) {
	proofJSON, txRef, err := a.store.GetProof(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	var proof merkle.Proof
	if err := json.Unmarshal([]byte(proofJSON), &proof); err != nil {
		return nil, nil, fmt.Errorf("failed to decode stored proof: %w", err)
	}

	return &proof, txRef, nil
}

// GetStats reports the pending item count and anchored totals.
func (a *Anchor) GetStats(ctx context.Context) (*domain.BatchStats, error) {
	a.mu.Lock()
	pending := 0
	if a.pending != nil {
		pending = len(a.pending.items)
	}
	a.mu.Unlock()

	batches, items, err := a.store.AnchoredTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate batch stats: %w", err)
	}

	return &domain.BatchStats{
		PendingItems: pending,
		TotalBatches: batches,
		TotalItems:   items,
	}, nil
}
