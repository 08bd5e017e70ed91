package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStore keeps one hash per session: field = masked value, value = the
// JSON-encoded mapping. HSETNX gives atomic insert-or-reject per key.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore connects to Redis using config.RedisURL.
func NewRedisStore(config *Config, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, storageErr("parse redis url", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	s := NewRedisStoreFromClient(redis.NewClient(opts), config.KeyPrefix, config.TTL, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		s.client.Close() //nolint:errcheck // best-effort close on init failure
		return nil, err
	}

	logger.Info("Mapping store initialized",
		zap.String("backend", "redis"),
		zap.String("redis_url", maskDatabaseURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("ttl", config.TTL))

	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. A zero ttl keeps session
// hashes until they are cleared.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "pii"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (s *RedisStore) Store(ctx context.Context, m *Mapping) error {
	if err := prepare(m); err != nil {
		return err
	}

	data, err := json.Marshal(storedRecord{
		MaskedValue:   m.MaskedValue,
		OriginalValue: m.OriginalValue,
		Category:      m.Category,
		Context:       m.Context,
		SessionID:     m.SessionID,
		CreatedAt:     m.CreatedAt,
	})
	if err != nil {
		return storageErr("encode mapping", err)
	}

	key := s.sessionKey(m.SessionID)

	// With a TTL the insert and the expiry go out as one MULTI/EXEC.
	var set *redis.BoolCmd
	if s.ttl > 0 {
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			set = pipe.HSetNX(ctx, key, m.MaskedValue, data)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
	} else {
		set = s.client.HSetNX(ctx, key, m.MaskedValue, data)
		err = set.Err()
	}
	if err != nil {
		s.logger.Error("Failed to store mapping",
			zap.Error(err),
			zap.String("category", m.Category),
			zap.String("session_id", m.SessionID))
		return storageErr("hsetnx", err)
	}
	if !set.Val() {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) GetAll(ctx context.Context, sessionID string) (map[string]string, error) {
	mappings, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return latest(mappings), nil
}

func (s *RedisStore) List(ctx context.Context, sessionID string) ([]Mapping, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, storageErr("hgetall", err)
	}

	mappings := make([]Mapping, 0, len(fields))
	for masked, raw := range fields {
		var rec storedRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// A corrupt entry cannot be restored; skip it rather than fail the session.
			s.logger.Warn("Skipping undecodable mapping",
				zap.String("session_id", sessionID),
				zap.String("masked_value", masked),
				zap.Error(err))
			continue
		}
		m := rec.mapping()
		m.MaskedValue = masked
		m.SessionID = sessionID
		mappings = append(mappings, m)
	}

	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].CreatedAt.Equal(mappings[j].CreatedAt) {
			return mappings[i].MaskedValue < mappings[j].MaskedValue
		}
		return mappings[i].CreatedAt.Before(mappings[j].CreatedAt)
	})
	return mappings, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.sessionKey(sessionID)).Err(); err != nil {
		return storageErr("del session", err)
	}
	return nil
}

// Purge removes every session hash under the key prefix.
func (s *RedisStore) Purge(ctx context.Context) error {
	pattern := s.keyPrefix + ":session:*"

	// Use SCAN to find all keys with our prefix
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return storageErr("scan sessions", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := s.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			s.logger.Error("Failed to delete session keys", zap.Error(err))
			return storageErr("del sessions", err)
		}
	}

	s.logger.Info("All mappings purged", zap.Int("deleted_sessions", len(keys)))
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return strings.Join([]string{s.keyPrefix, "session", sessionID}, ":")
}
