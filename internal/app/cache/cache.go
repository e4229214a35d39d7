// Package cache holds the process-wide lookup tables rebuilt by the sync
// tasks. Each table is an immutable snapshot published by pointer swap, so
// readers never observe a partially built map.
package cache

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/farstore/registry-sync/internal/app/domain/registry"
)

// Snapshot is a read-only map. It must not be mutated after publication.
type Snapshot[K comparable, V any] struct {
	entries map[K]V
}

// Get returns the value for key and whether it was present.
func (s *Snapshot[K, V]) Get(key K) (V, bool) {
	v, ok := s.entries[key]
	return v, ok
}

// Len returns the number of entries.
func (s *Snapshot[K, V]) Len() int { return len(s.entries) }

// Range calls fn for each entry until fn returns false.
func (s *Snapshot[K, V]) Range(fn func(K, V) bool) {
	for k, v := range s.entries {
		if !fn(k, v) {
			return
		}
	}
}

// Cache publishes snapshots atomically.
type Cache[K comparable, V any] struct {
	current atomic.Pointer[Snapshot[K, V]]
}

// New returns a cache holding an empty snapshot.
func New[K comparable, V any]() *Cache[K, V] {
	c := &Cache[K, V]{}
	c.current.Store(&Snapshot[K, V]{entries: map[K]V{}})
	return c
}

// Load returns the current snapshot.
func (c *Cache[K, V]) Load() *Snapshot[K, V] {
	return c.current.Load()
}

// Swap replaces the whole table. The caller hands over ownership of entries.
func (c *Cache[K, V]) Swap(entries map[K]V) {
	if entries == nil {
		entries = map[K]V{}
	}
	c.current.Store(&Snapshot[K, V]{entries: entries})
}

// MetricsCache maps domains to derived financial metrics. Both indexes live
// in one table so a reader never pairs an id index with another generation's
// entries.
type MetricsCache struct {
	current atomic.Pointer[metricsTable]
}

type metricsTable struct {
	byDomain map[string]registry.DerivedMetrics
	byID     map[int64]string
}

func NewMetricsCache() *MetricsCache {
	m := &MetricsCache{}
	m.current.Store(&metricsTable{
		byDomain: map[string]registry.DerivedMetrics{},
		byID:     map[int64]string{},
	})
	return m
}

// Replace publishes a new table built from entries. Entries are keyed by
// their normalized domain; a later duplicate wins.
func (m *MetricsCache) Replace(entries []registry.DerivedMetrics) {
	byDomain := make(map[string]registry.DerivedMetrics, len(entries))
	for _, e := range entries {
		e.Domain = registry.NormalizeDomain(e.Domain)
		byDomain[e.Domain] = e
	}
	byID := make(map[int64]string, len(byDomain))
	for domain, e := range byDomain {
		byID[e.FrameID] = domain
	}
	m.current.Store(&metricsTable{byDomain: byDomain, byID: byID})
}

// Get returns the metrics for domain, or the zero value when unknown.
func (m *MetricsCache) Get(domain string) registry.DerivedMetrics {
	return m.current.Load().byDomain[registry.NormalizeDomain(domain)]
}

// ByFrameID returns the metrics for a ledger id.
func (m *MetricsCache) ByFrameID(id int64) (registry.DerivedMetrics, bool) {
	table := m.current.Load()
	domain, ok := table.byID[id]
	if !ok {
		return registry.DerivedMetrics{}, false
	}
	v, ok := table.byDomain[domain]
	return v, ok
}

// List returns every entry ordered by frame id.
func (m *MetricsCache) List() []registry.DerivedMetrics {
	table := m.current.Load()
	out := make([]registry.DerivedMetrics, 0, len(table.byDomain))
	for _, v := range table.byDomain {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FrameID != out[j].FrameID {
			return out[i].FrameID < out[j].FrameID
		}
		return strings.Compare(out[i].Domain, out[j].Domain) < 0
	})
	return out
}

// Len returns the number of cached entries.
func (m *MetricsCache) Len() int { return len(m.current.Load().byDomain) }

// APIKeyCache maps opaque API keys to the domain they authorize.
type APIKeyCache struct {
	keys *Cache[string, string]
}

func NewAPIKeyCache() *APIKeyCache {
	return &APIKeyCache{keys: New[string, string]()}
}

// Replace publishes a new key table.
func (a *APIKeyCache) Replace(keys []registry.APIKey) {
	next := make(map[string]string, len(keys))
	for _, k := range keys {
		next[k.Key] = registry.NormalizeDomain(k.Domain)
	}
	a.keys.Swap(next)
}

// Resolve returns the domain for key.
func (a *APIKeyCache) Resolve(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	return a.keys.Load().Get(key)
}

// Len returns the number of cached keys.
func (a *APIKeyCache) Len() int { return a.keys.Load().Len() }
