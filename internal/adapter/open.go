// Package adapter selects and opens the storage backend named by STORE_DRIVER.
package adapter

import (
	"context"
	"fmt"

	"creatorhub/internal/adapter/memory"
	"creatorhub/internal/adapter/repo"
	"creatorhub/internal/adapter/sqlite"
	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/infra/credentials"
)

// Stores bundles the opened backend.
type Stores struct {
	Driver        string
	Jobs          domain.JobStateStore
	Ledger        domain.LedgerStore
	Regenerations domain.RegenerationStore
	// Credentials is set only for the postgres backend.
	Credentials *credentials.Store
	// Ping is nil when the backend has nothing to check.
	Ping  func(ctx context.Context) error
	close func()
}

// Close releases the backend's connections.
func (s *Stores) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// Open connects to the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case infra.StoreMemory:
		store := memory.New()
		logger.Warn().Msg("store: using in-memory backend, state is lost on restart")
		return &Stores{
			Driver:        cfg.StoreDriver,
			Jobs:          store,
			Ledger:        store,
			Regenerations: store,
		}, nil

	case infra.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("store: sqlite backend ready")
		return &Stores{
			Driver:        cfg.StoreDriver,
			Jobs:          store,
			Ledger:        store,
			Regenerations: store,
			Ping:          store.Ping,
			close:         func() { _ = store.Close() },
		}, nil

	case infra.StorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		if cfg.DBAutoMigrate {
			if err := repo.EnsureSchema(ctx, runner); err != nil {
				pool.Close()
				return nil, err
			}
		}
		logger.Info().Msg("store: postgres backend ready")
		return &Stores{
			Driver:        cfg.StoreDriver,
			Jobs:          repo.NewJobRepository(runner),
			Ledger:        repo.NewLedgerRepository(runner),
			Regenerations: repo.NewRegenerationRepository(runner),
			Credentials:   credentials.NewStore(runner),
			Ping:          pool.Ping,
			close:         pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
}
