// Package redis implements the listing cache on Redis, so several
// orchestrator replicas can share one view of remote storage.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arkivist/mediavault/internal/cache"
	"github.com/arkivist/mediavault/internal/vault"
)

const defaultTTL = 5 * time.Minute

// Config captures the Redis connection and cache behavior parameters.
type Config struct {
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// Cache stores per-scope listings as JSON values with a TTL.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mediavault"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}, nil
}

// NewWithClient wraps an existing client, for tests against miniature or
// mock servers.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "mediavault"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns the cached listing for the scope. Undecodable values count
// as misses and are dropped, so one bad write cannot wedge a scope.
func (c *Cache) Get(ctx context.Context, scope string) (vault.Listing, bool, error) {
	data, err := c.client.Get(ctx, c.key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return vault.Listing{}, false, nil
	}
	if err != nil {
		return vault.Listing{}, false, fmt.Errorf("redis get: %w", err)
	}
	var listing vault.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		_ = c.client.Del(ctx, c.key(scope)).Err()
		return vault.Listing{}, false, nil
	}
	return listing, true, nil
}

// Put stores a listing for the scope with a fresh TTL.
func (c *Cache) Put(ctx context.Context, scope string, listing vault.Listing) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("marshal listing: %w", err)
	}
	if err := c.client.Set(ctx, c.key(scope), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Insert applies a single-object delta to every cached covering scope.
// The remaining TTL is preserved by rewriting with KEEPTTL semantics via
// a fresh TTL; a slightly extended lifetime is harmless for listings.
func (c *Cache) Insert(ctx context.Context, scope string, obj vault.ObjectInfo) error {
	for _, covering := range vault.CoveringScopes(scope) {
		data, err := c.client.Get(ctx, c.key(covering)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		var listing vault.Listing
		if err := json.Unmarshal(data, &listing); err != nil {
			_ = c.client.Del(ctx, c.key(covering)).Err()
			continue
		}
		cache.ApplyInsert(&listing, covering, scope, obj)
		updated, err := json.Marshal(listing)
		if err != nil {
			return fmt.Errorf("marshal listing: %w", err)
		}
		if err := c.client.Set(ctx, c.key(covering), updated, c.ttl).Err(); err != nil {
			return fmt.Errorf("redis set: %w", err)
		}
	}
	return nil
}

// Invalidate drops the scope and every ancestor scope.
func (c *Cache) Invalidate(ctx context.Context, scope string) error {
	keys := make([]string, 0, 4)
	for _, covering := range vault.CoveringScopes(scope) {
		keys = append(keys, c.key(covering))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *Cache) key(scope string) string {
	return c.prefix + ":listing:" + scope
}
