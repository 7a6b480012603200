// Package cache provides a generic in-memory TTL cache with selectable eviction
// strategies, and the key generators used for response caching.
package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is returned when a cache is constructed with an invalid configuration
var ErrInvalidConfig = errors.New("cache: invalid configuration")

// Strategy selects which entry is evicted when the cache is full
type Strategy string

const (
	// StrategyLRU evicts the least recently used entry
	StrategyLRU Strategy = "lru"

	// StrategyFIFO evicts the entry inserted first, regardless of reads
	StrategyFIFO Strategy = "fifo"

	// StrategyLFU evicts the entry with the fewest reads
	StrategyLFU Strategy = "lfu"
)

// ParseStrategy converts a case-insensitive name into a Strategy
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown eviction strategy %q", ErrInvalidConfig, name)
	}
	return s, nil
}

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLRU, StrategyFIFO, StrategyLFU:
		return true
	default:
		return false
	}
}

// Config holds cache configuration. It is copied at construction and never
// changes afterwards.
type Config struct {
	TTL      time.Duration // Default TTL for entries
	MaxSize  int           // Maximum number of entries
	Strategy Strategy      // Eviction strategy
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() *Config {
	return &Config{
		TTL:      5 * time.Minute,
		MaxSize:  1000,
		Strategy: StrategyLRU,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %v", ErrInvalidConfig, c.TTL)
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidConfig, c.MaxSize)
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: unknown eviction strategy %q", ErrInvalidConfig, c.Strategy)
	}
	return nil
}

// Entry represents a cached value and its access bookkeeping
type Entry[T any] struct {
	Data         T
	CreatedAt    time.Time
	TTL          time.Duration
	AccessCount  uint64
	LastAccessed time.Time

	inserted uint64 // insertion order, kept across overwrites
	touched  uint64 // logical time of the last set or hit
}

// IsExpired reports whether the entry is older than its TTL at now
func (e *Entry[T]) IsExpired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Stats holds cache statistics
type Stats struct {
	TotalEntries   int `json:"totalEntries"`
	ExpiredEntries int `json:"expiredEntries"` // expired but not yet removed
	ActiveEntries  int `json:"activeEntries"`

	// MeanAccessCount is the mean number of reads per stored entry. It is a
	// popularity measure, not a hit ratio; see HitRate for that.
	MeanAccessCount   float64 `json:"meanAccessCount"`
	AverageAgeSeconds float64 `json:"averageAgeSeconds"`

	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hitRate"` // hits / (hits + misses)
	MaxSize   int     `json:"maxSize"`
}
