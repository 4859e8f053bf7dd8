package repository

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mohammad-safakhou/poodle/config"
	"github.com/mohammad-safakhou/poodle/internal/registry"
	"github.com/mohammad-safakhou/poodle/internal/store"
	"github.com/mohammad-safakhou/poodle/repository/redis_repository"
	"github.com/redis/go-redis/v9"
)

type RepoType string

const (
	RepoTypeMemory   RepoType = "memory"
	RepoTypeRedis    RepoType = "redis"
	RepoTypePostgres RepoType = "postgres"
)

// Backend is the opened storage selected by storage.backend.
type Backend struct {
	Registry registry.Registry
	// Redis is set for the redis backend so other components can share it.
	Redis  *redis.Client
	closer io.Closer
}

func (b *Backend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// NewRegistry opens the watched-resource registry selected by
// storage.backend.
func NewRegistry(ctx context.Context, cfg config.StorageConfig) (*Backend, error) {
	switch RepoType(cfg.Backend) {
	case RepoTypeMemory, "":
		return &Backend{Registry: registry.NewMemory()}, nil
	case RepoTypeRedis:
		c, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &Backend{Registry: redis_repository.NewRedisWatchRepository(c, cfg.Redis.KeyPrefix), Redis: c, closer: c}, nil
	case RepoTypePostgres:
		st, err := store.NewWithDSN(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		return &Backend{Registry: st, closer: st}, nil
	}
	return nil, fmt.Errorf("invalid repository type: %s", cfg.Backend)
}

// NewRedisClient connects with the storage.redis settings.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return redis_repository.Conn(ctx, redis_repository.ConnOptions{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
		Timeout:  timeout,
	})
}
