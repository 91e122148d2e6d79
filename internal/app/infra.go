package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-pipeline/internal/adapter/messaging"
	"github.com/rl1809/order-pipeline/internal/adapter/storage"
	"github.com/rl1809/order-pipeline/internal/adapter/storage/memory"
	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/logging"
	"github.com/rl1809/order-pipeline/internal/port"
)

const redisPoolSize = 100

// Infra holds the external connections. Idempotency and Archive are nil when
// Redis is not configured.
type Infra struct {
	Store       port.TableStore
	Transport   *messaging.Transport
	Idempotency port.IdempotencyStore
	Archive     port.PoisonArchive

	closers []func() error
}

// Connect opens every backend named by cfg. Whatever was opened before a
// failure is closed again.
func Connect(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *Infra, err error) {
	infra := &Infra{}
	defer func() {
		if err != nil {
			infra.Close()
		}
	}()

	switch cfg.Store.Driver {
	case config.DriverMySQL:
		db, err := storage.OpenMySQL(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, db.Close)
		adapter := storage.NewMySQLAdapter(db, cfg.Store.Tables)
		if err := adapter.Migrate(ctx); err != nil {
			return nil, err
		}
		if cfg.Store.SeedCatalog {
			products, customers := storage.DefaultCatalog()
			if err := adapter.Seed(ctx, products, customers); err != nil {
				return nil, err
			}
		}
		infra.Store = adapter
		log.Info().Msg("connected to mysql")
	case config.DriverMemory:
		store := memory.New()
		if cfg.Store.SeedCatalog {
			store.Seed(storage.DefaultCatalog())
		}
		infra.Store = store
		log.Info().Msg("using in-memory store")
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, PoolSize: redisPoolSize})
		infra.closers = append(infra.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		adapter := storage.NewRedisAdapter(rdb, cfg.Redis)
		infra.Idempotency = adapter
		infra.Archive = adapter
		log.Info().Msg("connected to redis")
	}

	transport, err := messaging.NewTransport(cfg.Queue, logging.NewWatermillAdapter(log))
	if err != nil {
		return nil, err
	}
	infra.Transport = transport
	infra.closers = append(infra.closers, transport.Close)
	log.Info().Str("driver", cfg.Queue.Driver).Int("workers", transport.Workers).Msg("queue transport ready")

	return infra, nil
}

// Close releases connections in reverse order of opening.
func (i *Infra) Close() error {
	var errs []error
	for j := len(i.closers) - 1; j >= 0; j-- {
		if err := i.closers[j](); err != nil {
			errs = append(errs, err)
		}
	}
	i.closers = nil
	return errors.Join(errs...)
}
