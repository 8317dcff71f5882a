// Package redisstore provides a Redis backed key-value store.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ratelimiter/internal/ratelimit/core"
	"ratelimiter/internal/ratelimit/observability"
)

const (
	defaultUpdateRetries = 16
	scanBatch            = 256
)

// ErrUpdateContention is returned when an optimistic update keeps losing races.
var ErrUpdateContention = errors.New("redis update aborted after repeated contention")

// incrScript increments a counter and sets its expiry only when the increment created it.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Options configures the Redis connection. URL wins over Addr when both are set.
type Options struct {
	URL           string
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	MaxRetries    int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	UpdateRetries int
}

// RedisStore implements core.Store over go-redis.
type RedisStore struct {
	client        redis.UniversalClient
	updateRetries int
	logger        observability.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, opts Options, logger observability.Logger) (*RedisStore, error) {
	redisOpts, err := clientOptions(opts)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(redisOpts)

	pingCtx := ctx
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if logger != nil {
			logger.Error("redis connection failed", map[string]any{"addr": redisOpts.Addr, "error": err})
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger != nil {
		logger.Info("redis store connected", map[string]any{
			"addr":        redisOpts.Addr,
			"db":          redisOpts.DB,
			"pool_size":   redisOpts.PoolSize,
			"max_retries": redisOpts.MaxRetries,
		})
	}
	return NewFromClient(client, opts.UpdateRetries, logger), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client redis.UniversalClient, updateRetries int, logger observability.Logger) *RedisStore {
	if updateRetries <= 0 {
		updateRetries = defaultUpdateRetries
	}
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &RedisStore{client: client, updateRetries: updateRetries, logger: logger}
}

func clientOptions(opts Options) (*redis.Options, error) {
	var redisOpts *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisOpts = parsed
	} else {
		if opts.Addr == "" {
			return nil, errors.New("redis address is required")
		}
		redisOpts = &redis.Options{Addr: opts.Addr, DB: opts.DB}
	}
	if opts.Password != "" {
		redisOpts.Password = opts.Password
	}
	if opts.DB != 0 {
		redisOpts.DB = opts.DB
	}
	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
	}
	if opts.MaxRetries != 0 {
		redisOpts.MaxRetries = opts.MaxRetries
	}
	if opts.DialTimeout > 0 {
		redisOpts.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		redisOpts.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		redisOpts.WriteTimeout = opts.WriteTimeout
	}
	return redisOpts, nil
}

// Get returns a value and whether it exists.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// MGet returns values aligned with keys; missing keys yield nil.
func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return [][]byte{}, nil
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(raw))
	for i, v := range raw {
		switch typed := v.(type) {
		case string:
			values[i] = []byte(typed)
		case []byte:
			values[i] = typed
		}
	}
	return values, nil
}

// Set stores a value. A non-positive ttl never expires.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, normalizeTTL(ttl)).Err()
}

// Delete removes every key inside one MULTI/EXEC transaction.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

// Keys scans for keys with prefix and returns them in ascending order.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(prefix) + "*"
	keys := make([]string, 0)
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// SCAN may return a key more than once.
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Incr atomically increments a counter, applying ttl when the key is created.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
}

// Update performs an optimistic WATCH/MULTI read-modify-write, retrying on contention.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn core.UpdateFunc) ([]byte, error) {
	if fn == nil {
		return nil, errors.New("update func is required")
	}
	var next []byte
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}
		next, err = fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, normalizeTTL(ttl))
			return nil
		})
		return err
	}
	for attempt := 0; attempt < s.updateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	s.logger.Error("redis update contention", map[string]any{"key": key, "attempts": s.updateRetries})
	return nil, ErrUpdateContention
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ core.Store = (*RedisStore)(nil)
