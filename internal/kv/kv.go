// Package kv implements the offset/token key-value store from spec.md 4.9,
// backed by Redis following the reference pkg/database.Redis client
// construction (redis.NewClient with pool/retry options, Ping on connect).
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

// Config configures the Redis-backed KV store.
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
}

// DefaultConfig mirrors the reference database.DefaultRedisConfig.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// Store is the KV abstraction used for consumer-group offsets and cached IDP
// tokens (spec.md 3, 4.9).
type Store struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to Redis and verifies the connection with Ping.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("kv: connect: %w", err)
	}
	return &Store{client: client, log: log}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

// OffsetKey builds the persisted key for a (consumer, topic) pair:
// "topic:{consumer_id}-{topic}:offset" (spec.md 3).
func OffsetKey(consumerID, topic string) string {
	return fmt.Sprintf("topic:%s-%s:offset", consumerID, topic)
}

// TokenKey builds the persisted key for a management node's cached token:
// "management_node_{id}_access_token" (spec.md 3).
func TokenKey(managementNodeID string) string {
	return fmt.Sprintf("management_node_%s_access_token", managementNodeID)
}

// Get performs a best-effort read: on backend failure it degrades to a
// cache miss rather than raising, per spec.md 4.9.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.log.Warn("kv: get %s failed, treating as cache miss: %v", key, err)
		}
		return "", false
	}
	return v, true
}

// Set writes a value with an optional TTL (ttl<=0 means no expiry). Set is
// best-effort for general keys; offset writes use SetOffset, which hard-fails
// instead.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.log.Warn("kv: set %s failed: %v", key, err)
		return err
	}
	return nil
}

// GetOffset returns the next-offset for (consumerID, topic), or (0, false)
// on cache miss or backend failure — the caller decides the resumption
// default (typically the request's own offset field).
func (s *Store) GetOffset(ctx context.Context, consumerID, topic string) (int64, bool) {
	v, ok := s.Get(ctx, OffsetKey(consumerID, topic))
	if !ok {
		return 0, false
	}
	var offset int64
	if _, err := fmt.Sscanf(v, "%d", &offset); err != nil {
		s.log.Warn("kv: offset value %q for %s is not an integer", v, OffsetKey(consumerID, topic))
		return 0, false
	}
	return offset, true
}

// SetOffset persists the next-offset for (consumerID, topic). Offset writes
// gate progress (spec.md 3 invariant: "after a frame is durably handed off
// ... next_offset is advanced"), so a failure is logged as a hard failure
// rather than silently swallowed, per spec.md 4.9.
func (s *Store) SetOffset(ctx context.Context, consumerID, topic string, nextOffset int64) error {
	key := OffsetKey(consumerID, topic)
	if err := s.client.Set(ctx, key, fmt.Sprintf("%d", nextOffset), 0).Err(); err != nil {
		s.log.Error("kv: FAILED to advance offset %s to %d: %v", key, nextOffset, err)
		return fmt.Errorf("kv: set offset %s: %w", key, err)
	}
	return nil
}

// GetToken returns the cached token string for managementNodeID.
func (s *Store) GetToken(ctx context.Context, managementNodeID string) (string, bool) {
	return s.Get(ctx, TokenKey(managementNodeID))
}

// SetToken caches a token with a TTL equal to the token's own expires_in,
// per spec.md 4.9.
func (s *Store) SetToken(ctx context.Context, managementNodeID, token string, ttl time.Duration) error {
	return s.Set(ctx, TokenKey(managementNodeID), token, ttl)
}
