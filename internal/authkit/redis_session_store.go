package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps sessions as JSON values whose Redis TTL tracks the session expiry.
type RedisSessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

type redisSessionValue struct {
	UserID        string `json:"user_id"`
	ExpiresUnix   int64  `json:"expires_unix"`
	CreatedAtUnix int64  `json:"created_at_unix"`
}

// NewRedisSessionStore parses a redis:// URL and verifies connectivity.
func NewRedisSessionStore(ctx context.Context, redisURL string, keyPrefix string) (*RedisSessionStore, error) {
	options, parseErr := redis.ParseURL(redisURL)
	if parseErr != nil {
		return nil, fmt.Errorf("session_store.redis.parse_url: %w", parseErr)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session_store.redis.ping: %w", pingErr)
	}
	return NewRedisSessionStoreWithClient(client, keyPrefix), nil
}

// NewRedisSessionStoreWithClient wraps a pre-configured client.
func NewRedisSessionStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisSessionStore {
	return &RedisSessionStore{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// Close releases the underlying client.
func (store *RedisSessionStore) Close() error {
	return store.client.Close()
}

// Insert writes the session with a TTL ending at its expiry.
func (store *RedisSessionStore) Insert(ctx context.Context, record SessionRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("session_store.insert.redis: %w", ErrSessionEmptyID)
	}
	payload, encodeErr := json.Marshal(redisSessionValue{
		UserID:        record.UserID,
		ExpiresUnix:   record.ExpiresAt.UTC().Unix(),
		CreatedAtUnix: record.CreatedAt.UTC().Unix(),
	})
	if encodeErr != nil {
		return fmt.Errorf("session_store.insert.redis: %w", encodeErr)
	}
	if err := store.client.Set(ctx, store.key(record.ID), payload, store.ttlUntil(record.ExpiresAt)).Err(); err != nil {
		return fmt.Errorf("session_store.insert.redis: %w", err)
	}
	return nil
}

// Find reads and decodes a session.
func (store *RedisSessionStore) Find(ctx context.Context, sessionID string) (SessionRecord, error) {
	value, err := store.read(ctx, sessionID)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("session_store.find.redis: %w", err)
	}
	return SessionRecord{
		ID:        sessionID,
		UserID:    value.UserID,
		ExpiresAt: time.Unix(value.ExpiresUnix, 0).UTC(),
		CreatedAt: time.Unix(value.CreatedAtUnix, 0).UTC(),
	}, nil
}

// UpdateExpiry rewrites the session only if it still exists.
func (store *RedisSessionStore) UpdateExpiry(ctx context.Context, sessionID string, expiresAt time.Time) error {
	value, err := store.read(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session_store.update_expiry.redis: %w", err)
	}
	value.ExpiresUnix = expiresAt.UTC().Unix()
	payload, encodeErr := json.Marshal(value)
	if encodeErr != nil {
		return fmt.Errorf("session_store.update_expiry.redis: %w", encodeErr)
	}
	updated, setErr := store.client.SetXX(ctx, store.key(sessionID), payload, store.ttlUntil(expiresAt)).Result()
	if setErr != nil {
		return fmt.Errorf("session_store.update_expiry.redis: %w", setErr)
	}
	if !updated {
		return fmt.Errorf("session_store.update_expiry.redis: %w", ErrSessionNotFound)
	}
	return nil
}

// Delete removes a session key.
func (store *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	removed, err := store.client.Del(ctx, store.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("session_store.delete.redis: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("session_store.delete.redis: %w", ErrSessionNotFound)
	}
	return nil
}

func (store *RedisSessionStore) read(ctx context.Context, sessionID string) (redisSessionValue, error) {
	if strings.TrimSpace(sessionID) == "" {
		return redisSessionValue{}, ErrSessionEmptyID
	}
	data, err := store.client.Get(ctx, store.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redisSessionValue{}, ErrSessionNotFound
		}
		return redisSessionValue{}, err
	}
	var value redisSessionValue
	if decodeErr := json.Unmarshal(data, &value); decodeErr != nil {
		return redisSessionValue{}, decodeErr
	}
	return value, nil
}

func (store *RedisSessionStore) key(sessionID string) string {
	return store.keyPrefix + "session:" + sessionID
}

// ttlUntil never returns less than a second; SET rejects non-positive expirations.
func (store *RedisSessionStore) ttlUntil(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(store.now())
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
