package cache

import (
	"fmt"
	"sync"
	"time"
)

// Option configures optional Manager behaviour
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Manager is a bounded, TTL-aware key/value store. It is safe for concurrent use.
type Manager[T any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[T]
	config  Config
	now     func() time.Time

	seq       uint64 // logical clock for insertion and touch order
	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache manager. It fails with ErrInvalidConfig for a
// non-positive TTL or size, or an unknown strategy.
func New[T any](config *Config, opts ...Option) (*Manager[T], error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	return &Manager[T]{
		entries: make(map[string]*Entry[T]),
		config:  *config,
		now:     o.now,
	}, nil
}

// MustNew is like New but panics on an invalid configuration
func MustNew[T any](config *Config, opts ...Option) *Manager[T] {
	m, err := New[T](config, opts...)
	if err != nil {
		panic(fmt.Sprintf("cache: %v", err))
	}
	return m
}

// Config returns a copy of the manager's configuration
func (m *Manager[T]) Config() Config {
	return m.config
}

// Get returns the value for key if present and not expired. Reading an expired
// entry removes it.
func (m *Manager[T]) Get(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	entry, ok := m.entries[key]
	if !ok {
		m.misses++
		return zero, false
	}

	now := m.now()
	if entry.IsExpired(now) {
		delete(m.entries, key)
		m.misses++
		return zero, false
	}

	m.seq++
	entry.AccessCount++
	entry.LastAccessed = now
	entry.touched = m.seq
	m.hits++

	return entry.Data, true
}

// Set stores value under key with the default TTL
func (m *Manager[T]) Set(key string, value T) {
	m.SetWithTTL(key, value, m.config.TTL)
}

// SetWithTTL stores value under key. A non-positive ttl uses the default TTL.
// When the cache is full and key is new, one entry is evicted first.
// Overwriting a key starts a fresh entry with a zero access count but keeps
// its insertion position.
func (m *Manager[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.config.TTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.seq++

	if existing, ok := m.entries[key]; ok {
		existing.Data = value
		existing.CreatedAt = now
		existing.TTL = ttl
		existing.AccessCount = 0
		existing.LastAccessed = now
		existing.touched = m.seq
		return
	}

	if len(m.entries) >= m.config.MaxSize {
		m.evictOne()
	}

	m.entries[key] = &Entry[T]{
		Data:         value,
		CreatedAt:    now,
		TTL:          ttl,
		LastAccessed: now,
		inserted:     m.seq,
		touched:      m.seq,
	}
}

// Delete removes key. Missing keys are ignored.
func (m *Manager[T]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
}

// Clear removes all entries
func (m *Manager[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return
	}
	m.entries = make(map[string]*Entry[T])
}

// Len returns the number of stored entries, expired or not
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Stats returns cache statistics. Expired entries are counted but not removed.
func (m *Manager[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := Stats{
		TotalEntries: len(m.entries),
		Hits:         m.hits,
		Misses:       m.misses,
		Evictions:    m.evictions,
		MaxSize:      m.config.MaxSize,
	}

	var accessTotal uint64
	var ageTotal time.Duration
	for _, entry := range m.entries {
		if entry.IsExpired(now) {
			stats.ExpiredEntries++
		}
		accessTotal += entry.AccessCount
		ageTotal += now.Sub(entry.CreatedAt)
	}
	stats.ActiveEntries = stats.TotalEntries - stats.ExpiredEntries

	if stats.TotalEntries > 0 {
		stats.MeanAccessCount = float64(accessTotal) / float64(stats.TotalEntries)
		stats.AverageAgeSeconds = ageTotal.Seconds() / float64(stats.TotalEntries)
	}

	if total := m.hits + m.misses; total > 0 {
		stats.HitRate = float64(m.hits) / float64(total)
	}

	return stats
}

// Cleanup removes every expired entry and returns how many were removed.
// A nil manager has nothing to remove.
func (m *Manager[T]) Cleanup() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.entries {
		if entry.IsExpired(now) {
			delete(m.entries, key)
			removed++
		}
	}

	return removed
}

// evictOne removes a single victim chosen by the configured strategy.
// Callers must hold m.mu.
func (m *Manager[T]) evictOne() {
	key, ok := selectVictim(m.entries, m.config.Strategy)
	if !ok {
		return
	}

	delete(m.entries, key)
	m.evictions++
}
