package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/shelfsignal/backend/config"
	"github.com/shelfsignal/backend/internal/domain"
)

// Supported store types
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeSQLite = "sqlite"
)

// Open builds the configured key-value store. The caller owns it and must Close it.
func Open(ctx context.Context, cfg config.StoreConfig) (domain.KVStore, error) {
	switch cfg.Type {
	case TypeMemory, "":
		log.Printf("[STORE] using in-memory store (data is lost on restart)")
		return NewMemoryStore(), nil
	case TypeRedis:
		log.Printf("[STORE] using redis store (prefix %q)", cfg.KeyPrefix)
		return NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix)
	case TypeSQLite:
		log.Printf("[STORE] using sqlite store at %s", cfg.SQLitePath)
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	}
	return nil, fmt.Errorf("%w: store type %q", domain.ErrInvalidConfig, cfg.Type)
}
