package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
)

const (
	pendingMarker    = "pending"
	poisonArchiveCap = 1000
)

// RedisAdapter keeps idempotency keys and the poison archive.
type RedisAdapter struct {
	client    *redis.Client
	ttl       time.Duration
	poisonKey string
}

func NewRedisAdapter(client *redis.Client, cfg config.RedisConfig) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: cfg.IdempotencyTTL, poisonKey: cfg.PoisonListKey}
}

func (r *RedisAdapter) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, pendingMarker, r.ttl).Result()
	if err != nil {
		return false, domain.Transient(fmt.Errorf("reserve %s: %w", key, err))
	}
	return ok, nil
}

func (r *RedisAdapter) Lookup(ctx context.Context, key string) (*domain.OrderSummary, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) || val == pendingMarker {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("lookup %s: %w", key, err))
	}

	var summary domain.OrderSummary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil, fmt.Errorf("decode idempotent result %s: %w", key, err)
	}
	return &summary, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key string, summary domain.OrderSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode idempotent result: %w", err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return domain.Transient(fmt.Errorf("complete %s: %w", key, err))
	}
	return nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return domain.Transient(fmt.Errorf("release %s: %w", key, err))
	}
	return nil
}

// Archive pushes entry onto a capped list, newest first.
func (r *RedisAdapter) Archive(ctx context.Context, entry domain.PoisonEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode poison entry: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.poisonKey, data)
		pipe.LTrim(ctx, r.poisonKey, 0, poisonArchiveCap-1)
		return nil
	})
	if err != nil {
		return domain.Transient(fmt.Errorf("archive poison entry: %w", err))
	}
	return nil
}

func (r *RedisAdapter) Recent(ctx context.Context, limit int) ([]domain.PoisonEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := r.client.LRange(ctx, r.poisonKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read poison archive: %w", err))
	}

	entries := make([]domain.PoisonEntry, 0, len(raw))
	for _, item := range raw {
		var entry domain.PoisonEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
