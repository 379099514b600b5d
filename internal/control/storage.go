package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/txguard/internal/core/config"
	redisclient "github.com/vietddude/txguard/internal/infra/redis"
	"github.com/vietddude/txguard/internal/infra/storage"
	"github.com/vietddude/txguard/internal/infra/storage/memory"
	"github.com/vietddude/txguard/internal/infra/storage/postgres"
)

// Storage is an opened snapshot backend.
type Storage struct {
	Repo   storage.OperationRepository
	Driver string

	db          *postgres.DB
	redisClient *redisclient.Client
}

// OpenStorage connects the backend selected by cfg.Storage.Driver. Postgres
// schemas are migrated on open.
func OpenStorage(ctx context.Context, cfg *config.AppConfig) (*Storage, error) {
	s := &Storage{Driver: cfg.Storage.Driver}

	switch cfg.Storage.Driver {
	case "", "memory":
		s.Driver = "memory"
		s.Repo = memory.NewOperationRepo()
		slog.Info("Using in-memory storage")

	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		s.db = db
		s.Repo = postgres.NewOperationRepo(db)
		slog.Info("Using PostgreSQL storage")

	case "redis":
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		s.redisClient = rc
		s.Repo = redisclient.NewOperationRepo(rc, cfg.Redis.KeyPrefix)
		slog.Info("Using Redis storage", "prefix", cfg.Redis.KeyPrefix)

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	return s, nil
}

// Health pings the backend. The memory backend is always healthy.
func (s *Storage) Health(ctx context.Context) error {
	switch {
	case s.db != nil:
		return s.db.Health(ctx)
	case s.redisClient != nil:
		return s.redisClient.Health(ctx)
	}
	return nil
}

// StartMetricsCollector reports connection pool usage for SQL backends.
func (s *Storage) StartMetricsCollector(ctx context.Context) {
	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}
}

// Close releases connections.
func (s *Storage) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.redisClient != nil {
		errs = append(errs, s.redisClient.Close())
	}
	return errors.Join(errs...)
}
