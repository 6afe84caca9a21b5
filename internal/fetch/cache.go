package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by a Store when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Store is the byte cache behind Cached.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore keeps encoded collections in Redis.
type RedisStore struct {
	Client redis.UniversalClient
}

// NewRedisStore parses a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisStore{Client: redis.NewClient(opts)}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.Client.Set(ctx, key, value, ttl).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.Client.Close()
}

// Cached serves collections from a Store and fills it on miss. Cache errors
// never fail a fetch; they are logged and the next fetcher is used.
type Cached struct {
	Next   Fetcher
	Store  Store
	Prefix string
	TTL    time.Duration
	Logger *slog.Logger
}

// DefaultCacheTTL is used when Cached.TTL is zero.
const DefaultCacheTTL = time.Hour

// Fetch implements Fetcher.
func (c *Cached) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	ck := c.Prefix + key
	data, err := c.Store.Get(ctx, ck)
	switch {
	case err == nil:
		fc, perr := geojson.UnmarshalFeatureCollection(data)
		if perr == nil {
			return fc, nil
		}
		c.warn("dropping undecodable cache entry", ck, perr)
	case !errors.Is(err, ErrCacheMiss):
		c.warn("cache read failed", ck, err)
	}

	fc, err := c.Next.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err = fc.MarshalJSON()
	if err != nil {
		c.warn("encoding cache entry", ck, err)
		return fc, nil
	}
	ttl := c.TTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	if err := c.Store.Set(ctx, ck, data, ttl); err != nil {
		c.warn("cache write failed", ck, err)
	}
	return fc, nil
}

func (c *Cached) warn(msg, key string, err error) {
	if c.Logger != nil {
		c.Logger.Warn(msg, "key", key, "err", err)
	}
}
