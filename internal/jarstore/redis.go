package jarstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"credproxy/internal/model"
)

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 5 * time.Second

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration // zero keeps keys forever
}

// RedisStore keeps jars in redis as JSON objects, one key per session.
// Expiry is delegated to redis key TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore connects to redis and verifies the connection with PING.
func NewRedisStore(opts RedisOptions, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return &RedisStore{
		client: client,
		prefix: opts.KeyPrefix,
		ttl:    opts.TTL,
		logger: logger,
	}, nil
}

func (st *RedisStore) key(sessionID string) string {
	return st.prefix + sessionID
}

func (st *RedisStore) Get(ctx context.Context, sessionID string) (model.Jar, bool) {
	key := st.key(sessionID)

	data, err := st.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Jar{}, false
	}
	if err != nil {
		st.logger.Error("load jar", "session", sessionID, "err", err)
		return model.Jar{}, false
	}

	jar := model.Jar{}
	if err := json.Unmarshal(data, &jar); err != nil {
		st.logger.Error("decode jar", "session", sessionID, "err", err)
		return model.Jar{}, false
	}

	if st.ttl > 0 {
		if err := st.client.Expire(ctx, key, st.ttl).Err(); err != nil {
			st.logger.Warn("refresh jar ttl", "session", sessionID, "err", err)
		}
	}
	return jar, true
}

func (st *RedisStore) Put(ctx context.Context, sessionID string, jar model.Jar) {
	if jar == nil {
		jar = model.Jar{}
	}
	data, err := json.Marshal(jar)
	if err != nil {
		st.logger.Error("encode jar", "session", sessionID, "err", err)
		return
	}
	if err := st.client.Set(ctx, st.key(sessionID), data, st.ttl).Err(); err != nil {
		st.logger.Error("save jar", "session", sessionID, "err", err)
		return
	}
	st.logger.Debug("jar saved", "session", sessionID, "cookies", len(jar))
}

func (st *RedisStore) Delete(ctx context.Context, sessionID string) {
	if err := st.client.Del(ctx, st.key(sessionID)).Err(); err != nil {
		st.logger.Error("delete jar", "session", sessionID, "err", err)
	}
}

func (st *RedisStore) Close() error {
	return st.client.Close()
}
