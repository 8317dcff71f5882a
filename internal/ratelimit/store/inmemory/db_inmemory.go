// Package inmemory provides an in-memory key-value store.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ratelimiter/internal/ratelimit/core"
)

// ErrUnavailable is returned by every operation while the store is marked unhealthy.
var ErrUnavailable = errors.New("in-memory store unavailable")

// InMemoryStore is a mutex guarded map with lazy TTL expiry.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	healthy atomic.Bool
	closed  atomic.Bool
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore(now func() time.Time) *InMemoryStore {
	if now == nil {
		now = time.Now
	}
	s := &InMemoryStore{entries: make(map[string]entry), now: now}
	s.healthy.Store(true)
	return s
}

// SetHealthy toggles failure injection.
func (s *InMemoryStore) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

func (s *InMemoryStore) check(ctx context.Context) error {
	if s == nil {
		return errors.New("in-memory store is nil")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if s.closed.Load() {
		return errors.New("in-memory store is closed")
	}
	if !s.healthy.Load() {
		return ErrUnavailable
	}
	return nil
}

// lookup returns a live entry. Callers hold mu.
func (s *InMemoryStore) lookup(key string, now time.Time) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *InMemoryStore) expiry(ttl time.Duration, now time.Time) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Get returns a value and whether it exists.
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key, s.now())
	if !ok {
		return nil, false, nil
	}
	return clone(e.value), true, nil
}

// MGet returns values aligned with keys; missing keys yield nil.
func (s *InMemoryStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	values := make([][]byte, len(keys))
	for i, key := range keys {
		if e, ok := s.lookup(key, now); ok {
			values[i] = clone(e.value)
		}
	}
	return values, nil
}

// Set stores a value. A non-positive ttl never expires.
func (s *InMemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: clone(value), expiresAt: s.expiry(ttl, s.now())}
	return nil
}

// Delete removes every key in one critical section.
func (s *InMemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// Keys returns live keys with prefix in ascending order.
func (s *InMemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	keys := make([]string, 0)
	for key, e := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e.expired(now) {
			delete(s.entries, key)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Incr increments a decimal counter, applying ttl when the key is created.
func (s *InMemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.lookup(key, now)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, errors.New("value is not an integer")
		}
		n = parsed
	} else {
		e.expiresAt = s.expiry(ttl, now)
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	s.entries[key] = e
	return n, nil
}

// Update applies fn under the store lock. The ttl is refreshed on every write.
func (s *InMemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn core.UpdateFunc) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("update func is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var current []byte
	if e, ok := s.lookup(key, now); ok {
		current = clone(e.value)
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	s.entries[key] = entry{value: clone(next), expiresAt: s.expiry(ttl, now)}
	return clone(next), nil
}

// Ping reports availability.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	return s.check(ctx)
}

// Len returns the number of stored entries, including ones not yet lazily expired.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

var _ core.Store = (*InMemoryStore)(nil)

// Close marks the store closed.
func (s *InMemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
