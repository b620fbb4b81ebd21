package anchor

import (
	"context"
	"time"

	"github.com/provenix/evidence-keeper/internal/keeper/domain"
)

// StubProvider is a deterministic in-process provider for development and
// tests. Anchor returns an unconfirmed fake reference; Confirm always
// confirms.
type StubProvider struct{}

func (StubProvider) Anchor(ctx context.Context, ev Evidence) (*domain.ChainTxRef, error) {
	now := time.Now().UTC()
	return &domain.ChainTxRef{
		Network:   "solana",
		Chain:     "devnet",
		TxID:      "fake:" + ev.DigestHex,
		Confirmed: false,
		Timestamp: &now,
	}, nil
}

func (StubProvider) Confirm(ctx context.Context, tx *domain.ChainTxRef) (*domain.ChainTxRef, error) {
	updated := *tx
	updated.Confirmed = true
	return &updated, nil
}
