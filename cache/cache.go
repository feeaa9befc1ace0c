// Package cache stores computed insights and metrics keyed by a content hash.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Cache is a byte cache with per-entry TTL. Misses and backend failures both report ok=false.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Key hashes parts into a stable cache key under prefix.
func Key(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "bizpilot:" + prefix + ":" + hex.EncodeToString(h.Sum(nil))
}

// Redis is backed by a redis server.
type Redis struct {
	Client *redis.Client
	Logger *logrus.Logger
}

// NewRedis parses url (redis://...) and pings the server.
func NewRedis(ctx context.Context, url string, logger *logrus.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{Client: client, Logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && r.Logger != nil {
			r.Logger.WithError(err).WithField("key", key).Warn("cache get failed")
		}
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.Client.Set(ctx, key, value, ttl).Err(); err != nil && r.Logger != nil {
		r.Logger.WithError(err).WithField("key", key).Warn("cache set failed")
	}
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

// Memory is an in-process cache used when no redis url is configured.
type Memory struct {
	c *ristretto.Cache[string, []byte]
}

func NewMemory(maxBytes int64) (*Memory, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Memory{c: c}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	return m.c.Get(key)
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.c.SetWithTTL(key, value, int64(len(value)), ttl)
	m.c.Wait()
}

func (m *Memory) Close() {
	m.c.Close()
}

// New returns a redis cache when url is set, falling back to memory if redis is unreachable.
func New(ctx context.Context, url string, logger *logrus.Logger) Cache {
	if strings.TrimSpace(url) != "" {
		r, err := NewRedis(ctx, url, logger)
		if err == nil {
			return r
		}
		logger.WithError(err).Warn("redis unavailable, using in-process cache")
	}
	m, err := NewMemory(64 << 20)
	if err != nil {
		logger.WithError(err).Warn("in-process cache init failed, caching disabled")
		return Noop{}
	}
	return m
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration) {}
