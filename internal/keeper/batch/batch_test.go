package batch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provenix/evidence-keeper/internal/keeper/anchor"
	"github.com/provenix/evidence-keeper/internal/keeper/domain"
)

// memStore is an in-memory batch.Store for tests.
type memStore struct {
	mu       sync.Mutex
	batches  map[string]*domain.MerkleBatch
	proofs   map[string]memProof
	doneJobs map[string]bool
}

type memProof struct {
	batchID   string
	leafIndex int
	proofJSON string
}

func newMemStore() *memStore {
	return &memStore{
		batches:  make(map[string]*domain.MerkleBatch),
		proofs:   make(map[string]memProof),
		doneJobs: make(map[string]bool),
	}
}

func (m *memStore) InsertBatch(ctx context.Context, b *domain.MerkleBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *b
	m.batches[b.ID] = &copied
	return nil
}

func (m *memStore) InsertProof(ctx context.Context, jobID, batchID string, leafIndex int, proofJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proofs[jobID] = memProof{batchID: batchID, leafIndex: leafIndex, proofJSON: proofJSON}
	return nil
}

func (m *memStore) MarkBatchAnchored(ctx context.Context, batchID string, tx *domain.ChainTxRef, anchoredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return domain.ErrProofNotFound
	}
	at := anchoredAt
	b.AnchoredAt = &at
	network, chain, txID := tx.Network, tx.Chain, tx.TxID
	b.TxNetwork = &network
	b.TxChain = &chain
	b.TxID = &txID
	b.TxConfirmed = tx.Confirmed
	return nil
}

func (m *memStore) MarkJobsDone(ctx context.Context, jobIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range jobIDs {
		m.doneJobs[id] = true
	}
	return nil
}

func (m *memStore) GetProof(ctx context.Context, jobID string) (string, *domain.ChainTxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proofs[jobID]
	if !ok {
		return "", nil, domain.ErrProofNotFound
	}
	b := m.batches[p.batchID]
	if b == nil || b.TxID == nil {
		return "", nil, domain.ErrProofNotFound
	}
	return p.proofJSON, &domain.ChainTxRef{
		JobID:     jobID,
		Network:   *b.TxNetwork,
		Chain:     *b.TxChain,
		TxID:      *b.TxID,
		Confirmed: b.TxConfirmed,
	}, nil
}

func (m *memStore) AnchoredTotals(ctx context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batches, items := 0, 0
	for _, b := range m.batches {
		if b.AnchoredAt != nil {
			batches++
			items += b.ItemCount
		}
	}
	return batches, items, nil
}

// failingProvider always fails with a temporary error.
type failingProvider struct{}

func (failingProvider) Anchor(ctx context.Context, ev anchor.Evidence) (*domain.ChainTxRef, error) {
	return nil, anchor.NewError(anchor.KindNetwork, "connection refused", nil)
}

func (failingProvider) Confirm(ctx context.Context, tx *domain.ChainTxRef) (*domain.ChainTxRef, error) {
	return nil, anchor.NewError(anchor.KindNetwork, "connection refused", nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func digests(n int) []string {
	all := []string{
		"6c64b1416425eff8f49ba1a366a30aab224b3b86d1942ed5134bdbd3ecbc129c",
		"17b7e79b4481cb95f2d2575ee71f693d6bcd6eae3b0ed25f30e493d0b0a17a14",
		"c6ba390332571e34b4cdfe575e9644d8a6b8ae56e0c5c0e6a51c88a8b6b0ab0f",
		"0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		"9f64a747e1b97f131fabb6b447296c9b6f0201e79fb3c5356e6c77e89b6a806a",
	}
	return all[:n]
}

func TestSizeTriggerFlush(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := NewAnchor(store, anchor.StubProvider{}, Config{MaxBatchSize: 3, MaxBatchAge: time.Hour, MinBatchSize: 1}, testLogger())

	for i, d := range digests(3) {
		require.NoError(t, a.AddItem(ctx, "job-"+string(rune('a'+i)), d))
	}

	stats, err := a.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingItems, "size trigger must leave zero pending items")
	assert.Equal(t, 1, stats.TotalBatches)
	assert.Equal(t, 3, stats.TotalItems)

	assert.True(t, store.doneJobs["job-a"])
	assert.True(t, store.doneJobs["job-b"])
	assert.True(t, store.doneJobs["job-c"])
}

func TestTimeoutTrigger(t *testing.T) {
	ctx := context.Background()

	t.Run("age zero with min size one flushes immediately", func(t *testing.T) {
		a := NewAnchor(newMemStore(), anchor.StubProvider{}, Config{MaxBatchSize: 100, MaxBatchAge: 0, MinBatchSize: 1}, testLogger())
		require.NoError(t, a.AddItem(ctx, "job-1", digests(1)[0]))

		flushed, err := a.CheckTimeout(ctx)
		require.NoError(t, err)
		assert.True(t, flushed)

		stats, err := a.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.PendingItems)
		assert.Equal(t, 1, stats.TotalBatches)
	})

	t.Run("below min size does not flush", func(t *testing.T) {
		a := NewAnchor(newMemStore(), anchor.StubProvider{}, Config{MaxBatchSize: 100, MaxBatchAge: 0, MinBatchSize: 3}, testLogger())
		require.NoError(t, a.AddItem(ctx, "job-1", digests(1)[0]))

		flushed, err := a.CheckTimeout(ctx)
		require.NoError(t, err)
		assert.False(t, flushed)

		stats, err := a.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.PendingItems)
		assert.Equal(t, 0, stats.TotalBatches)
	})

	t.Run("empty pending batch is a no-op", func(t *testing.T) {
		a := NewAnchor(newMemStore(), anchor.StubProvider{}, Config{MaxBatchSize: 100, MaxBatchAge: 0, MinBatchSize: 1}, testLogger())
		flushed, err := a.CheckTimeout(ctx)
		require.NoError(t, err)
		assert.False(t, flushed)
	})
}

func TestForcedFlushEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := NewAnchor(store, anchor.StubProvider{}, Config{MaxBatchSize: 100, MaxBatchAge: time.Hour, MinBatchSize: 1}, testLogger())

	jobIDs := make([]string, 5)
	for i, d := range digests(5) {
		jobIDs[i] = "job-" + string(rune('0'+i))
		require.NoError(t, a.AddItem(ctx, jobIDs[i], d))
	}

	require.NoError(t, a.Flush(ctx))

	var root string
	for i, id := range jobIDs {
		proof, txRef, err := a.GetProof(ctx, id)
		require.NoError(t, err, "proof for %s", id)
		require.NotNil(t, txRef)
		assert.Equal(t, i, proof.LeafIndex, "leaf index must follow insertion order")

		if root == "" {
			root = proof.Root
		}
		assert.Equal(t, root, proof.Root, "all proofs share one root")

		ok, err := proof.Verify(root)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Flushing again with nothing pending is a no-op
	require.NoError(t, a.Flush(ctx))
	stats, err := a.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalBatches)
	assert.Equal(t, 5, stats.TotalItems)
}

func TestAnchorFailureContainment(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := NewAnchor(store, failingProvider{}, Config{MaxBatchSize: 100, MaxBatchAge: time.Hour, MinBatchSize: 1}, testLogger())

	for i, d := range digests(3) {
		require.NoError(t, a.AddItem(ctx, "job-"+string(rune('0'+i)), d))
	}

	// A failing provider must not surface an error from Flush
	require.NoError(t, a.Flush(ctx))

	// The batch row persists without tx fields
	require.Len(t, store.batches, 1)
	for _, b := range store.batches {
		assert.Nil(t, b.AnchoredAt)
		assert.Nil(t, b.TxID)
	}

	// Proof rows exist but are not served while the batch is unanchored
	require.Len(t, store.proofs, 3)
	for i := 0; i < 3; i++ {
		_, _, err := a.GetProof(ctx, "job-"+string(rune('0'+i)))
		assert.ErrorIs(t, err, domain.ErrProofNotFound)
	}

	// Member jobs are not marked done
	assert.Empty(t, store.doneJobs)

	// Totals count anchored batches only
	stats, err := a.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalBatches)
	assert.Equal(t, 0, stats.TotalItems)
}
