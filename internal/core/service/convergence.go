package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/metrics"
	"github.com/rl1809/order-pipeline/internal/port"
)

//go:generate go tool stringer -type=Visibility

// Visibility is the outcome of a convergence wait. NotYetVisible is a soft
// outcome: the order was accepted and is expected to appear shortly.
type Visibility int

const (
	NotYetVisible Visibility = iota
	Visible
)

// defaultMaxWait applies when no ceiling is configured.
const defaultMaxWait = 10 * time.Second

// Policy bounds a convergence wait to MaxAttempts reads spaced Delay apart.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Budget is the total delay the policy can spend, saturating at the largest Duration.
func (p Policy) Budget() time.Duration {
	if p.MaxAttempts < 1 || p.Delay <= 0 {
		return 0
	}
	if p.Delay > time.Duration(math.MaxInt64)/time.Duration(p.MaxAttempts) {
		return time.Duration(math.MaxInt64)
	}
	return p.Delay * time.Duration(p.MaxAttempts)
}

// Poller waits for an accepted order to be materialized. No wait outlives maxWait.
type Poller struct {
	orders  port.OrderReader
	policy  Policy
	maxWait time.Duration
	log     zerolog.Logger
}

func NewPoller(orders port.OrderReader, cfg config.PollConfig, log zerolog.Logger) *Poller {
	policy := Policy{MaxAttempts: cfg.MaxAttempts, Delay: cfg.Delay}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = max(policy.Budget(), defaultMaxWait)
	}
	return &Poller{
		orders:  orders,
		policy:  policy,
		maxWait: maxWait,
		log:     log.With().Str("component", "poller").Logger(),
	}
}

// DefaultPolicy is the platform-wide policy from configuration.
func (p *Poller) DefaultPolicy() Policy { return p.policy }

// MaxWait is the ceiling on any single convergence wait.
func (p *Poller) MaxWait() time.Duration { return p.maxWait }

// Check rejects a per-call policy whose budget exceeds the ceiling.
func (p *Poller) Check(policy Policy) error {
	if b := policy.Budget(); b > p.maxWait {
		return fmt.Errorf("%w: poll budget %d x %s exceeds the %s limit", domain.ErrValidation, policy.MaxAttempts, policy.Delay, p.maxWait)
	}
	return nil
}

// AwaitVisible never fails. Not-found and read errors count as "not yet";
// a cancelled ctx or the MaxWait deadline ends the wait early with NotYetVisible.
func (p *Poller) AwaitVisible(ctx context.Context, orderID string, policy Policy) Visibility {
	if policy.MaxAttempts < 1 {
		policy = p.policy
	}
	ctx, cancel := context.WithTimeout(ctx, p.maxWait)
	defer cancel()

	timer := time.NewTimer(policy.Delay)
	defer timer.Stop()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			p.record(orderID, NotYetVisible, attempt-1)
			return NotYetVisible
		case <-timer.C:
		}

		order, err := p.orders.GetOrder(ctx, orderID)
		if err == nil && order != nil {
			p.record(orderID, Visible, attempt)
			return Visible
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			p.log.Debug().Err(err).Str("order_id", orderID).Int("attempt", attempt).Msg("order read failed while polling")
		}
		timer.Reset(policy.Delay)
	}

	p.record(orderID, NotYetVisible, policy.MaxAttempts)
	return NotYetVisible
}

func (p *Poller) record(orderID string, v Visibility, attempts int) {
	metrics.PollOutcomes.WithLabelValues(v.String()).Inc()
	p.log.Debug().Str("order_id", orderID).Stringer("visibility", v).Int("attempts", attempts).Msg("convergence wait finished")
}
