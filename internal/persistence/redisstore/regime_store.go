// Package redisstore provides a Redis-backed regime history store for
// deployments where classifier state must survive restarts without a
// local filesystem.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradepilot/tradepilot/internal/regime"
)

// Options configures the Redis regime store
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{
		Addr: "localhost:6379",
		Key:  "tradepilot:regime:history",
		TTL:  72 * time.Hour,
	}
}

// Store implements regime.Store using a single JSON value keyed under
// Options.Key. The full history is written each save so a reader always
// sees a consistent snapshot.
type Store struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// New creates a Redis-backed regime store and verifies connectivity
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Key == "" {
		opts.Key = DefaultOptions().Key
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Store{client: client, key: opts.Key, ttl: opts.TTL}, nil
}

// NewWithClient wraps an existing client, used by tests
func NewWithClient(client *redis.Client, key string, ttl time.Duration) *Store {
	return &Store{client: client, key: key, ttl: ttl}
}

// Save replaces the stored history snapshot
func (s *Store) Save(ctx context.Context, history []regime.Classification) error {
	payload, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal regime history: %w", err)
	}
	if err := s.client.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store regime history: %w", err)
	}
	return nil
}

// Load returns the stored history, or empty when the key is absent
func (s *Store) Load(ctx context.Context) ([]regime.Classification, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load regime history: %w", err)
	}
	var history []regime.Classification
	if err := json.Unmarshal(payload, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal regime history: %w", err)
	}
	return history, nil
}

// Close releases the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}
