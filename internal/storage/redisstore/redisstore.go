// Package redisstore stores the JSON documents of package blob in Redis.
package redisstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"solana-liquidity-sync/internal/storage"
	"solana-liquidity-sync/internal/storage/blob"
)

// Each document is a hash with a data and an etag field. The conditional
// write runs as one script, so the check and the write are atomic.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'etag')
if ARGV[2] == '1' and cur then
	return 0
end
if ARGV[3] ~= '' and cur ~= ARGV[3] then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'etag', ARGV[4])
return 1
`)

// Config configures the Redis backend.
type Config struct {
	// URL is a redis:// URL. When set it takes precedence over Addr.
	URL      string
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the document keys.
	Prefix string
}

// Backend implements blob.Backend on Redis.
type Backend struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis backend: %w: empty address", storage.ErrInvalidInput)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Backend{client: client, prefix: cfg.Prefix}, nil
}

// NewStores returns the full store set on Redis. Closing the set closes the client.
func NewStores(ctx context.Context, cfg Config) (*storage.Stores, error) {
	b, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	stores := blob.NewStores(b)
	stores.Close = b.Close
	return stores, nil
}

// Close closes the client.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Name implements blob.Backend.
func (b *Backend) Name() string { return "redis" }

// Get implements blob.Backend.
func (b *Backend) Get(ctx context.Context, name string) ([]byte, string, error) {
	vals, err := b.client.HMGet(ctx, b.key(name), "data", "etag").Result()
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", b.key(name), err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, "", storage.ErrNotFound
	}
	etag, _ := vals[1].(string)
	return []byte(data), etag, nil
}

// Put implements blob.Backend.
func (b *Backend) Put(ctx context.Context, name string, data []byte, cond blob.Condition) (string, error) {
	etag := uuid.NewString()
	noneMatch := "0"
	if cond.IfNoneMatch {
		noneMatch = "1"
	}

	ok, err := putScript.Run(ctx, b.client, []string{b.key(name)}, data, noneMatch, cond.IfMatch, etag).Int()
	if err != nil {
		return "", fmt.Errorf("put %s: %w", b.key(name), err)
	}
	if ok != 1 {
		return "", storage.ErrConflict
	}
	return etag, nil
}

func (b *Backend) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + ":" + name
}

// Compile-time interface check.
var _ blob.Backend = (*Backend)(nil)
