package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Backend stores rendered keys to serialized values. Keys arriving here are
// already namespace-qualified ("NAMESPACE:key").
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key with the given prefix; an empty prefix clears
	// everything.
	Clear(ctx context.Context, prefix string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// memoryBackend wraps patrickmn/go-cache.
type memoryBackend struct {
	store *gocache.Cache
}

// NewMemoryBackend creates an in-process backend with the given default TTL.
func NewMemoryBackend(defaultTTL time.Duration) Backend {
	return &memoryBackend{
		store: gocache.New(defaultTTL, 10*time.Minute),
	}
}

func (m *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(key, value, ttl)
	return nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *memoryBackend) Clear(_ context.Context, prefix string) error {
	if prefix == "" {
		m.store.Flush()
		return nil
	}
	for key := range m.store.Items() {
		if strings.HasPrefix(key, prefix) {
			m.store.Delete(key)
		}
	}
	return nil
}

func (m *memoryBackend) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.store.Get(key)
	return ok, nil
}

// noneBackend disables caching: every read misses, every write no-ops.
type noneBackend struct{}

// NewNoneBackend creates the disabled backend.
func NewNoneBackend() Backend {
	return noneBackend{}
}

func (noneBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (noneBackend) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}
func (noneBackend) Delete(context.Context, string) error         { return nil }
func (noneBackend) Clear(context.Context, string) error          { return nil }
func (noneBackend) Exists(context.Context, string) (bool, error) { return false, nil }
