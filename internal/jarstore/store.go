// Package jarstore keeps backend cookie jars keyed by client session ID.
//
// A jar is always read and written whole. Store failures never reach the
// caller: a jar that cannot be loaded is reported as absent, and a jar that
// cannot be saved is dropped after logging.
package jarstore

import (
	"context"
	"log/slog"
	"time"

	"credproxy/internal/config"
	"credproxy/internal/model"
)

// Store persists one cookie jar per client session.
type Store interface {
	// Get returns the session's jar and true, or an empty jar and false when
	// the session has none (never logged in, logged out or expired).
	Get(ctx context.Context, sessionID string) (model.Jar, bool)
	// Put replaces the session's jar wholesale.
	Put(ctx context.Context, sessionID string, jar model.Jar)
	// Delete forgets the session's jar.
	Delete(ctx context.Context, sessionID string)
	// Close releases background resources.
	Close() error
}

// Kind names the store implementation behind a Store.
func Kind(s Store) string {
	switch s.(type) {
	case *RedisStore:
		return config.StoreRedis
	default:
		return config.StoreMemory
	}
}

// New builds the store selected by cfg.Session.Store. A redis store that
// cannot be reached at startup falls back to memory.
func New(cfg *config.Config, logger *slog.Logger) Store {
	ttl := time.Duration(cfg.Session.TTLSeconds) * time.Second
	logger = logger.With("component", "jar_store")

	if cfg.Session.Store == config.StoreRedis {
		rc := cfg.Session.Redis
		store, err := NewRedisStore(RedisOptions{
			Addr:      rc.Addr,
			Username:  rc.Username,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
			TTL:       ttl,
		}, logger)
		if err != nil {
			logger.Warn("redis connection failed; falling back to in-memory jar store",
				"addr", rc.Addr,
				"err", err,
			)
			return NewMemoryStore(ttl, logger)
		}
		logger.Info("using redis jar store", "addr", rc.Addr, "db", rc.DB)
		return store
	}

	logger.Info("using in-memory jar store")
	return NewMemoryStore(ttl, logger)
}
