// Package app assembles the ledger from configuration and exposes every
// compound operation to the adapters through one operation registry.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"retail-ledger/internal/config"
	"retail-ledger/internal/core"
	"retail-ledger/internal/counter"
	"retail-ledger/internal/db"
	"retail-ledger/internal/logger"
	"retail-ledger/internal/store/memory"
	"retail-ledger/internal/store/postgres"
)

// App owns the store, the receipt counter and the coordinator built on them.
type App struct {
	Store       core.Store
	Coordinator *core.Coordinator
	log         zerolog.Logger
	closers     []func()
}

// New connects to the configured backends. Close releases them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{log: logger.WithComponent("app")}

	switch cfg.StoreDriver {
	case "memory":
		a.Store = memory.New()
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.Store = postgres.New(pool)
	}

	var receipts core.ReceiptCounter = counter.NewStoreCounter(a.Store)
	if cfg.ReceiptCounter == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		rc := counter.NewRedisCounter(client, cfg.RedisKey)
		if err := rc.SeedFrom(ctx, a.Store); err != nil {
			a.Close()
			return nil, err
		}
		receipts = rc
	}

	a.Coordinator = core.NewCoordinator(a.Store, receipts, a.Store, cfg.Policy(), logger.WithComponent("ledger"))
	a.log.Debug().Str("store", cfg.StoreDriver).Str("receipts", cfg.ReceiptCounter).
		Bool("atomic", a.Store.SupportsAtomicTransactions()).Msg("ledger ready")
	return a, nil
}

// NewWithStore builds an App over an existing store, drawing receipts from
// the store's own sequence.
func NewWithStore(store core.Store, policy core.Policy, log zerolog.Logger) *App {
	return &App{
		Store:       store,
		Coordinator: core.NewCoordinator(store, counter.NewStoreCounter(store), store, policy, log),
		log:         log,
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
