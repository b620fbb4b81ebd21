package domain

import "time"

// MerkleBatch is one flushed batch of evidence digests anchored by a single
// transaction. AnchoredAt and the tx fields are all-or-nothing: all null
// until the anchor call succeeds, then all populated.
type MerkleBatch struct {
	ID          string     `db:"id"`
	MerkleRoot  string     `db:"merkle_root"`
	ItemCount   int        `db:"item_count"`
	CreatedAt   time.Time  `db:"created_at"`
	AnchoredAt  *time.Time `db:"anchored_at"`
	TxNetwork   *string    `db:"tx_network"`
	TxChain     *string    `db:"tx_chain"`
	TxID        *string    `db:"tx_id"`
	TxConfirmed bool       `db:"tx_confirmed"`
}

// BatchStats summarizes batch anchoring activity. The totals only count
// batches that actually anchored.
type BatchStats struct {
	PendingItems int `json:"pending_items"`
	TotalBatches int `json:"total_batches"`
	TotalItems   int `json:"total_items"`
}
