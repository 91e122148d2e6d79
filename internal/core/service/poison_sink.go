package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/metrics"
	"github.com/rl1809/order-pipeline/internal/port"
)

// PoisonSink records messages that exhausted their redelivery budget.
// With no archive configured it only logs.
type PoisonSink struct {
	archive port.PoisonArchive
	log     zerolog.Logger
	now     func() time.Time
}

func NewPoisonSink(archive port.PoisonArchive, log zerolog.Logger) *PoisonSink {
	return &PoisonSink{
		archive: archive,
		log:     log.With().Str("component", "poison_sink").Logger(),
		now:     time.Now,
	}
}

func (p *PoisonSink) Handle(ctx context.Context, topic, handler, reason string, payload []byte) error {
	metrics.PoisonMessages.WithLabelValues(topic).Inc()
	p.log.Error().Str("topic", topic).Str("handler", handler).Str("reason", reason).Msg("message quarantined")

	if p.archive == nil {
		return nil
	}
	return p.archive.Archive(ctx, domain.PoisonEntry{
		At:      p.now().UTC(),
		Topic:   topic,
		Handler: handler,
		Reason:  reason,
		Payload: string(payload),
	})
}

// Recent lists archived entries, newest first.
func (p *PoisonSink) Recent(ctx context.Context, limit int) ([]domain.PoisonEntry, error) {
	if p.archive == nil {
		return []domain.PoisonEntry{}, nil
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	return p.archive.Recent(ctx, limit)
}
