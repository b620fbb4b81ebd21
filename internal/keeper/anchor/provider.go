// Package anchor defines the contract between the keeper and an external
// blockchain anchoring service, plus the Solana JSON-RPC implementation.
package anchor

import (
	"context"
	"errors"
	"time"

	"github.com/provenix/evidence-keeper/internal/keeper/domain"
)

// Evidence is the payload handed to a provider: either a single job digest
// or a batch Merkle root.
type Evidence struct {
	ID          string
	DigestHex   string
	CreatedAt   time.Time
	PayloadMime string
	Metadata    map[string]any
}

// Provider abstracts "submit a digest to a chain" and "check confirmation".
// Confirm must be idempotent and safe to call on already-confirmed refs.
type Provider interface {
	Anchor(ctx context.Context, ev Evidence) (*domain.ChainTxRef, error)
	Confirm(ctx context.Context, tx *domain.ChainTxRef) (*domain.ChainTxRef, error)
}

// ErrorKind classifies provider failures so the retry policy never needs to
// inspect provider-specific internals.
type ErrorKind int

const (
	// KindNetwork covers transport failures: timeouts, refused connections,
	// malformed responses. Retryable.
	KindNetwork ErrorKind = iota
	// KindProvider covers errors reported by the anchoring service itself
	// (RPC errors, missing result fields). Retryable.
	KindProvider
	// KindInvalidInput covers malformed requests. Not retryable.
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindProvider:
		return "provider"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is a classified anchoring failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified anchor error.
func NewError(kind ErrorKind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// IsTemporary reports whether err should be retried with backoff. Network
// and provider-side failures are temporary; anything else is permanent.
func IsTemporary(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == KindNetwork || ae.Kind == KindProvider
	}
	return false
}
