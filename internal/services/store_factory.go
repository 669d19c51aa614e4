package services

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"streamvault/internal/config"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
)

// OpenSessionStore builds the store selected by STORE_DRIVER. db may be nil
// unless the postgres driver is selected. The returned func releases the store.
func OpenSessionStore(cfg *config.Config, db *gorm.DB, log *zap.Logger) (SessionStore, func() error, error) {
	switch cfg.StoreDriver {
	case "", StoreDriverMemory:
		store := NewMemorySessionStore(cfg.SessionTTL, log)
		return store, store.Close, nil

	case StoreDriverRedis:
		if cfg.RedisURL == "" {
			return nil, nil, errors.New("REDIS_URL is required for the redis store")
		}
		client, err := NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("redis connection established")
		store := NewRedisSessionStore(client, cfg.SessionTTL, log)
		return store, store.Close, nil

	case StoreDriverPostgres:
		if db == nil {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres store")
		}
		return NewGormSessionStore(db), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
