// Package keeper drives the long-running anchoring loops: the per-job
// outbox state machine, the confirmation poller, the batch timeout driver,
// and the RabbitMQ dispatcher feeding the batch anchor.
package keeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/provenix/evidence-keeper/internal/keeper/anchor"
	"github.com/provenix/evidence-keeper/internal/keeper/batch"
	"github.com/provenix/evidence-keeper/internal/keeper/domain"
	"github.com/provenix/evidence-keeper/internal/metrics"
	"github.com/provenix/evidence-keeper/shared/rabbitmq"
)

// JobStore is the durable job state the loops operate on.
type JobStore interface {
	ClaimNext(ctx context.Context) (*domain.EvidenceJob, error)
	MarkTxAndDone(ctx context.Context, id string, tx *domain.ChainTxRef) error
	MarkFailedOrBackoff(ctx context.Context, id, reason string, temporary bool) error
	UnconfirmedTxRefs(ctx context.Context) ([]domain.ChainTxRef, error)
	UpdateTxConfirmation(ctx context.Context, tx *domain.ChainTxRef) error
}

// Config holds keeper configuration.
type Config struct {
	Logger              *slog.Logger
	Store               JobStore
	Provider            anchor.Provider
	Batch               *batch.Anchor
	RabbitClient        *rabbitmq.Client
	JobPollInterval     time.Duration
	ConfirmPollInterval time.Duration
	BatchPollInterval   time.Duration
	PrefetchCount       int
	ConsumerTag         string
}

// Keeper owns the anchoring loops. Loops communicate only through the
// durable store and the batch anchor's lock; there is no message passing
// between them.
type Keeper struct {
	logger              *slog.Logger
	store               JobStore
	provider            anchor.Provider
	batch               *batch.Anchor
	rabbitClient        *rabbitmq.Client
	jobPollInterval     time.Duration
	confirmPollInterval time.Duration
	batchPollInterval   time.Duration
	prefetchCount       int
	consumerTag         string
}

// New creates a keeper instance.
func New(cfg *Config) *Keeper {
	return &Keeper{
		logger:              cfg.Logger,
		store:               cfg.Store,
		provider:            cfg.Provider,
		batch:               cfg.Batch,
		rabbitClient:        cfg.RabbitClient,
		jobPollInterval:     cfg.JobPollInterval,
		confirmPollInterval: cfg.ConfirmPollInterval,
		batchPollInterval:   cfg.BatchPollInterval,
		prefetchCount:       cfg.PrefetchCount,
		consumerTag:         cfg.ConsumerTag,
	}
}

// RunJobLoop claims and anchors jobs until the context is canceled. Errors
// are contained to one iteration: the loop logs and keeps going.
func (k *Keeper) RunJobLoop(ctx context.Context) {
	k.logger.Info("Job loop started",
		slog.Duration("poll_interval", k.jobPollInterval),
	)

	for {
		processed, err := k.processOne(ctx)
		if err != nil {
			k.logger.Error("Failed to process job",
				slog.String("error", err.Error()),
			)
		}

		if processed && err == nil {
			// More work may be waiting; claim again without sleeping.
			continue
		}

		select {
		case <-ctx.Done():
			k.logger.Info("Job loop stopped")
			return
		case <-time.After(k.jobPollInterval):
		}
	}
}

// processOne claims the next eligible job and drives it through one state
// transition. Returns whether a job was claimed.
func (k *Keeper) processOne(ctx context.Context) (bool, error) {
	job, err := k.store.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	ev := anchor.Evidence{
		ID:        job.ID,
		DigestHex: job.PayloadDigest,
		CreatedAt: job.CreatedAt,
		Metadata:  map[string]any{},
	}

	txRef, err := k.provider.Anchor(ctx, ev)
	if err != nil {
		temporary := anchor.IsTemporary(err)
		if markErr := k.store.MarkFailedOrBackoff(ctx, job.ID, err.Error(), temporary); markErr != nil {
			k.logger.Error("Failed to record job failure",
				slog.String("job_id", job.ID),
				slog.String("error", markErr.Error()),
			)
		}
		if temporary {
			metrics.JobsRequeued.Inc()
		} else {
			metrics.JobsFailed.Inc()
		}
		k.logger.Warn("Anchor call failed",
			slog.String("job_id", job.ID),
			slog.Bool("temporary", temporary),
			slog.String("error", err.Error()),
		)
		return true, nil
	}

	if err := k.store.MarkTxAndDone(ctx, job.ID, txRef); err != nil {
		k.logger.Error("Failed to mark job done",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return true, nil
	}

	metrics.JobsAnchored.Inc()
	k.logger.Info("Job anchored",
		slog.String("job_id", job.ID),
		slog.String("tx_id", txRef.TxID),
		slog.String("network", txRef.Network),
	)

	return true, nil
}

// RunConfirmationLoop re-checks unconfirmed transaction references until
// the context is canceled. Per-reference errors are isolated: they are
// logged and do not affect other references or abort the pass.
func (k *Keeper) RunConfirmationLoop(ctx context.Context) {
	k.logger.Info("Confirmation loop started",
		slog.Duration("poll_interval", k.confirmPollInterval),
	)

	for {
		k.confirmPass(ctx)

		select {
		case <-ctx.Done():
			k.logger.Info("Confirmation loop stopped")
			return
		case <-time.After(k.confirmPollInterval):
		}
	}
}

func (k *Keeper) confirmPass(ctx context.Context) {
	refs, err := k.store.UnconfirmedTxRefs(ctx)
	if err != nil {
		k.logger.Error("Failed to fetch unconfirmed tx refs",
			slog.String("error", err.Error()),
		)
		return
	}

	for i := range refs {
		ref := refs[i]
		updated, err := k.provider.Confirm(ctx, &ref)
		if err != nil {
			k.logger.Warn("Failed to check confirmation status",
				slog.String("tx_id", ref.TxID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if updated.Confirmed == ref.Confirmed {
			continue
		}

		if err := k.store.UpdateTxConfirmation(ctx, updated); err != nil {
			k.logger.Error("Failed to persist confirmation",
				slog.String("tx_id", updated.TxID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if updated.Confirmed {
			metrics.TxConfirmed.Inc()
			k.logger.Info("Transaction confirmed",
				slog.String("tx_id", updated.TxID),
				slog.String("network", updated.Network),
			)
		}
	}
}

// RunBatchTimeoutLoop periodically asks the batch anchor to flush an aged
// pending batch.
func (k *Keeper) RunBatchTimeoutLoop(ctx context.Context) {
	k.logger.Info("Batch timeout loop started",
		slog.Duration("poll_interval", k.batchPollInterval),
	)

	ticker := time.NewTicker(k.batchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("Batch timeout loop stopped")
			return
		case <-ticker.C:
			if _, err := k.batch.CheckTimeout(ctx); err != nil {
				k.logger.Error("Batch timeout check failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
