package store

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/config"
)

// Open builds the Backend selected by the store configuration
func Open(cfg config.StoreConfig) (Backend, error) {
	switch cfg.Type {
	case config.StoreTypeMemory:
		return NewMemoryBackend(), nil
	case config.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisBackend(client, cfg.RedisPrefix), nil
	case config.StoreTypeSQLite:
		return NewSQLiteBackend(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidStoreType, cfg.Type)
	}
}
