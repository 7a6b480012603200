package ratelimit

import (
	"sync"
	"time"
)

// Entry is the state of one identifier's window
type Entry struct {
	Count     int
	ResetTime time.Time
}

// FixedWindow is a fixed-window request counter keyed by identifier.
// It is safe for concurrent use.
type FixedWindow struct {
	mu      sync.Mutex
	entries map[string]*Entry
	config  Config
	now     func() time.Time
}

// NewFixedWindow creates a fixed window limiter
func NewFixedWindow(config *Config, opts ...Option) (*FixedWindow, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &FixedWindow{
		entries: make(map[string]*Entry),
		config:  *config,
		now:     buildOptions(opts).now,
	}, nil
}

// Config returns a copy of the limiter's configuration
func (f *FixedWindow) Config() Config {
	return f.config
}

// Check counts a request from id against its current window
func (f *FixedWindow) Check(id string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	limit := f.config.MaxRequests

	entry, ok := f.entries[id]
	if !ok || now.After(entry.ResetTime) {
		entry = &Entry{Count: 1, ResetTime: now.Add(f.config.Window)}
		f.entries[id] = entry
		return Result{Allowed: true, Limit: limit, Remaining: limit - 1, ResetTime: entry.ResetTime}
	}

	if entry.Count >= limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetTime: entry.ResetTime}
	}

	entry.Count++
	return Result{Allowed: true, Limit: limit, Remaining: limit - entry.Count, ResetTime: entry.ResetTime}
}

// Refund gives back one request to the window that admitted it, identified
// by the ResetTime of the Result returned from Check. It does nothing once
// that window has rolled over or been replaced.
func (f *FixedWindow) Refund(id string, window time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[id]
	if !ok || !entry.ResetTime.Equal(window) || f.now().After(entry.ResetTime) || entry.Count == 0 {
		return
	}
	entry.Count--
}

// Peek returns a copy of id's window without counting a request
func (f *FixedWindow) Peek(id string) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Cleanup removes windows whose reset time has passed. It is safe on a nil
// limiter.
func (f *FixedWindow) Cleanup() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	removed := 0
	for id, entry := range f.entries {
		if now.After(entry.ResetTime) {
			delete(f.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identifiers
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.entries)
}
