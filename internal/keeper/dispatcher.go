package keeper

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/provenix/evidence-keeper/internal/keeper/domain"
)

// RunDispatcher consumes submission messages and feeds them into the batch
// anchor. Only started in batch anchoring mode. Malformed messages are
// nacked without requeue so they end up in the dead-letter queue; transient
// failures nack with requeue.
func (k *Keeper) RunDispatcher(ctx context.Context) error {
	channel := k.rabbitClient.GetChannel()
	if channel == nil {
		return fmt.Errorf("rabbitmq channel is nil")
	}

	if err := channel.Qos(k.prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := k.rabbitClient.Consume(k.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	k.logger.Info("Batch dispatcher started",
		slog.String("consumer_tag", k.consumerTag),
		slog.Int("prefetch_count", k.prefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("Batch dispatcher stopped")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				k.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}
			k.handleDelivery(ctx, delivery)
		}
	}
}

func (k *Keeper) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg domain.SubmissionMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		k.logger.Error("Failed to parse submission message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		k.nack(delivery, false)
		return
	}

	if msg.JobID == "" {
		k.logger.Error("Submission message missing job_id")
		k.nack(delivery, false)
		return
	}

	if _, err := hex.DecodeString(msg.DigestHex); err != nil || msg.DigestHex == "" {
		// A bad digest would poison the whole batch flush; reject it here.
		k.logger.Error("Submission message carries invalid digest",
			slog.String("job_id", msg.JobID),
			slog.String("digest_hex", msg.DigestHex),
		)
		k.nack(delivery, false)
		return
	}

	if err := k.batch.AddItem(ctx, msg.JobID, msg.DigestHex); err != nil {
		k.logger.Error("Failed to add item to batch",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		k.nack(delivery, true)
		return
	}

	if err := delivery.Ack(false); err != nil {
		k.logger.Error("Failed to ACK submission message",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (k *Keeper) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		k.logger.Error("Failed to NACK message",
			slog.String("error", err.Error()),
			slog.Bool("requeue", requeue),
		)
	}
}
