// Package cache persists generation runs in Redis so they survive restarts
// and can be shared between service instances.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "tripgen:"

type RedisCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisCache(addr, password string, db int, logger *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis connection failed")
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisCache{
		client: client,
		prefix: DefaultPrefix,
		logger: logger.With("component", "redis_cache"),
	}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
		return errors.Wrapf(err, "set %s", key)
	}
	c.logger.Debug("cache set", "key", key, "size_bytes", len(value), "ttl", ttl, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Get returns nil data and no error on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("cache miss", "key", key)
		return nil, nil
	}
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
		return nil, errors.Wrapf(err, "get %s", key)
	}
	c.logger.Debug("cache hit", "key", key, "size_bytes", len(val), "duration_ms", time.Since(start).Milliseconds())
	return val, nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "json marshal")
	}
	return c.Set(ctx, key, data, ttl)
}

func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, errors.Wrap(err, "json unmarshal")
	}
	return true, nil
}

func (c *RedisCache) SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "json marshal")
	}
	compressed, err := gzipCompress(data)
	if err != nil {
		return errors.Wrap(err, "compress")
	}
	c.logger.Debug("compressed data", "key", key, "original_size", len(data), "compressed_size", len(compressed))
	return c.Set(ctx, key, compressed, ttl)
}

func (c *RedisCache) GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil || data == nil {
		return false, err
	}
	raw, err := gzipDecompress(data)
	if err != nil {
		return false, errors.Wrap(err, "decompress")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, errors.Wrap(err, "json unmarshal")
	}
	return true, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
