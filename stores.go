package lexgen

import (
	"context"
	"fmt"
	"net/http"

	"github.com/direitopremium/lexgen/internal/cache"
	"github.com/direitopremium/lexgen/internal/genlog"
	"github.com/direitopremium/lexgen/internal/storage"
)

// OpenStore opens the cache store cfg selects.
func OpenStore(ctx context.Context, cfg CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "", CacheMemory:
		return cache.NewMemory(cfg.Capacity), nil
	case CacheSQLite:
		return cache.NewSQLiteStore(cfg.DSN)
	case CachePostgres:
		return cache.NewPostgresStore(cfg.DSN)
	case CacheRedis:
		return cache.NewRedisStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// OpenGenerationLog opens the configured generation log, or returns nil
// when none is configured.
func OpenGenerationLog(cfg *GenerationLogConfig) (*genlog.SQLWriter, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Backend {
	case "sqlite":
		return genlog.NewSQLiteWriter(cfg.DSN)
	case "postgres":
		return genlog.NewPostgresWriter(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown generation_log backend %q", cfg.Backend)
	}
}

// OpenBucket returns the configured storage bucket, or nil when none is
// configured. Credentials must already be resolved.
func OpenBucket(cfg *StorageConfig, client *http.Client) (*storage.Bucket, error) {
	if cfg == nil {
		return nil, nil
	}
	return storage.NewBucket(cfg.BaseURL, cfg.Bucket, cfg.ServiceKey, client)
}
