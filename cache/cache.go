// Package cache provides a typed, namespaced TTL cache fronting database
// reads. Namespaces declare how composite keys render; backends are memory,
// redis or none. Reads distinguish a real hit from a cached "row does not
// exist" marker, which carries a shorter TTL.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhenxun-org/zhenxun-core/conf"
	"github.com/zhenxun-org/zhenxun-core/errors"
	"github.com/zhenxun-org/zhenxun-core/logger"
)

// DefaultTTL applies to entries set without an explicit TTL.
const DefaultTTL = 30 * time.Minute

// NullTTL applies to negative-cache entries.
const NullTTL = 300 * time.Second

// nullSentinel is the stored marker for "row known to not exist".
var nullSentinel = []byte(`"__CACHE_NULL__"`)

// Hit classifies the outcome of a cache read.
type Hit int

const (
	// Miss means the key was absent (or caching is disabled).
	Miss Hit = iota
	// HitValue means a real value was found.
	HitValue
	// HitNull means the null sentinel was found.
	HitNull
)

// keySpec describes how a namespace renders its composite keys.
type keySpec struct {
	fields []string
	format string
}

// render builds the key string from the field values. Ordered fields join
// with "_" (missing values render empty); a format spec replaces {field}
// placeholders.
func (s keySpec) render(fields map[string]string) string {
	if s.format != "" {
		out := s.format
		for name, value := range fields {
			out = strings.ReplaceAll(out, "{"+name+"}", value)
		}
		return out
	}
	parts := make([]string, len(s.fields))
	for i, name := range s.fields {
		parts[i] = fields[name]
	}
	return strings.Join(parts, "_")
}

// Stats holds per-namespace counters.
type Stats struct {
	Hits     int64
	NullHits int64
	Misses   int64
	Sets     int64
	NullSets int64
	Deletes  int64
}

// HitRate returns the percentage of reads answered from cache (real or null).
func (s Stats) HitRate() float64 {
	total := s.Hits + s.NullHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits+s.NullHits) / float64(total) * 100
}

// Manager is the namespace registry plus a backend.
type Manager struct {
	backend Backend

	mu    sync.RWMutex
	specs map[string]keySpec
	stats map[string]*Stats
}

// NewManager creates a cache manager over the given backend.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		specs:   make(map[string]keySpec),
		stats:   make(map[string]*Stats),
	}
}

// NewManagerFromConfig selects the backend from configuration.
func NewManagerFromConfig(cfg conf.CacheConfig) *Manager {
	switch strings.ToUpper(cfg.Mode) {
	case conf.CacheModeRedis:
		return NewManager(NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
	case conf.CacheModeNone:
		return NewManager(NewNoneBackend())
	default:
		return NewManager(NewMemoryBackend(DefaultTTL))
	}
}

// RegisterNamespace declares a namespace keyed by the ordered field tuple.
func (m *Manager) RegisterNamespace(name string, fields ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[strings.ToUpper(name)] = keySpec{fields: fields}
}

// RegisterNamespaceFormat declares a namespace keyed by a format string such
// as "{user_id}_{group_id}".
func (m *Manager) RegisterNamespaceFormat(name, format string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[strings.ToUpper(name)] = keySpec{format: format}
}

// RenderKey renders the composite key for a namespace. Unregistered
// namespaces fall back to joining all provided values.
func (m *Manager) RenderKey(namespace string, fields map[string]string) string {
	m.mu.RLock()
	spec, ok := m.specs[strings.ToUpper(namespace)]
	m.mu.RUnlock()
	if !ok {
		values := make([]string, 0, len(fields))
		for _, v := range fields {
			values = append(values, v)
		}
		return strings.Join(values, "_")
	}
	return spec.render(fields)
}

func (m *Manager) statsFor(namespace string) *Stats {
	namespace = strings.ToUpper(namespace)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[namespace]
	if !ok {
		s = &Stats{}
		m.stats[namespace] = s
	}
	return s
}

// Stats returns a snapshot of the namespace's counters.
func (m *Manager) Stats(namespace string) Stats {
	s := m.statsFor(namespace)
	return Stats{
		Hits:     atomic.LoadInt64(&s.Hits),
		NullHits: atomic.LoadInt64(&s.NullHits),
		Misses:   atomic.LoadInt64(&s.Misses),
		Sets:     atomic.LoadInt64(&s.Sets),
		NullSets: atomic.LoadInt64(&s.NullSets),
		Deletes:  atomic.LoadInt64(&s.Deletes),
	}
}

func fullKey(namespace, key string) string {
	return strings.ToUpper(namespace) + ":" + key
}

// Get reads raw serialized bytes. Backend errors degrade to a miss with a
// warning; a flaky cache must never fail a read path.
func (m *Manager) Get(ctx context.Context, namespace, key string) ([]byte, Hit, error) {
	stats := m.statsFor(namespace)

	raw, found, err := m.backend.Get(ctx, fullKey(namespace, key))
	if err != nil {
		logger.Warnw("Cache read failed, treating as miss",
			"namespace", namespace, "key", key, "error", err)
		atomic.AddInt64(&stats.Misses, 1)
		return nil, Miss, nil
	}
	if !found {
		atomic.AddInt64(&stats.Misses, 1)
		return nil, Miss, nil
	}
	if string(raw) == string(nullSentinel) {
		atomic.AddInt64(&stats.NullHits, 1)
		return nil, HitNull, nil
	}
	atomic.AddInt64(&stats.Hits, 1)
	return raw, HitValue, nil
}

// Set stores a JSON-serialized value. TTL <= 0 uses DefaultTTL.
func (m *Manager) Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshal cache value for %s:%s", namespace, key)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := m.backend.Set(ctx, fullKey(namespace, key), raw, ttl); err != nil {
		return err
	}
	atomic.AddInt64(&m.statsFor(namespace).Sets, 1)
	return nil
}

// SetNull stores the negative-cache marker with the short null TTL.
func (m *Manager) SetNull(ctx context.Context, namespace, key string) error {
	if err := m.backend.Set(ctx, fullKey(namespace, key), nullSentinel, NullTTL); err != nil {
		return err
	}
	atomic.AddInt64(&m.statsFor(namespace).NullSets, 1)
	return nil
}

// Delete removes one entry.
func (m *Manager) Delete(ctx context.Context, namespace, key string) error {
	if err := m.backend.Delete(ctx, fullKey(namespace, key)); err != nil {
		return err
	}
	atomic.AddInt64(&m.statsFor(namespace).Deletes, 1)
	return nil
}

// Clear removes a whole namespace, or everything when namespace is empty.
func (m *Manager) Clear(ctx context.Context, namespace string) error {
	if namespace == "" {
		return m.backend.Clear(ctx, "")
	}
	return m.backend.Clear(ctx, strings.ToUpper(namespace)+":")
}

// Exists reports whether the key holds any entry, sentinel included.
func (m *Manager) Exists(ctx context.Context, namespace, key string) (bool, error) {
	return m.backend.Exists(ctx, fullKey(namespace, key))
}
