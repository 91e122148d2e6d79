package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/metrics"
	"github.com/rl1809/order-pipeline/internal/port"
)

// OutboxRelay publishes messages staged alongside stock decrements.
// Delivery is at-least-once: a crash between publish and mark republishes.
type OutboxRelay struct {
	store     port.OutboxStore
	publisher port.EventPublisher
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

func NewOutboxRelay(store port.OutboxStore, publisher port.EventPublisher, cfg config.OutboxConfig, log zerolog.Logger) *OutboxRelay {
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		log:       log.With().Str("component", "outbox_relay").Logger(),
		now:       time.Now,
	}
}

// Run dispatches until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Int("batch_size", r.batchSize).Msg("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
		}

		for {
			n, err := r.DispatchOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Error().Err(err).Msg("outbox dispatch failed")
				}
				break
			}
			// a full batch means more rows may be waiting
			if n < r.batchSize {
				break
			}
		}
	}
}

// DispatchOnce publishes one batch in sequence order and stops at the first failure,
// so a message is never marked before the ones staged ahead of it.
func (r *OutboxRelay) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := r.store.PendingMessages(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending outbox: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	dispatched := make([]int64, 0, len(pending))
	var publishErr error
	for _, msg := range pending {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			publishErr = fmt.Errorf("publish outbox message %d to %s: %w", msg.Seq, msg.Topic, err)
			break
		}
		dispatched = append(dispatched, msg.Seq)
	}

	if len(dispatched) > 0 {
		if err := r.store.MarkDispatched(ctx, dispatched, r.now().UTC()); err != nil {
			return 0, fmt.Errorf("mark outbox dispatched: %w", err)
		}
		metrics.OutboxDispatched.Add(float64(len(dispatched)))
	}
	return len(dispatched), publishErr
}
