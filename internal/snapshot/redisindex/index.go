// Package redisindex stores the snapshot hash index in a Redis hash, so
// replicas sharing a GCS bucket also share one index.
package redisindex

import (
	"context"
	"errors"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/gradewatch/internal/snapshot"
)

const defaultKey = "gradewatch:snapshot:hashes"

// Index implements snapshot.HashIndex with HGET/HSET. Redis serializes the
// writes, so no local lock is needed.
type Index struct {
	client *backend.Client
	key    string
}

var _ snapshot.HashIndex = (*Index)(nil)

// Option configures an Index.
type Option func(*Index)

// WithKey sets the Redis hash key.
func WithKey(key string) Option {
	return func(i *Index) {
		if key != "" {
			i.key = key
		}
	}
}

// New connects to Redis at address.
func New(address, password string, db int, opts ...Option) *Index {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Index {
	idx := &Index{client: client, key: defaultKey}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Get returns the hash recorded for instance.
func (i *Index) Get(ctx context.Context, instance string) (string, bool, error) {
	hash, err := i.client.HGet(ctx, i.key, instance).Result()
	if errors.Is(err, backend.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget: %w", err)
	}
	return hash, true, nil
}

// Set records hash for instance.
func (i *Index) Set(ctx context.Context, instance, hash string) error {
	if err := i.client.HSet(ctx, i.key, instance, hash).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Ping checks connectivity; used by the readiness probe.
func (i *Index) Ping(ctx context.Context) error {
	if err := i.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (i *Index) Close() error {
	return i.client.Close()
}
