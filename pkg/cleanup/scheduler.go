// Package cleanup periodically purges expired cache entries and rate limit windows.
package cleanup

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCacheInterval is how often expired cache entries are purged
	DefaultCacheInterval = 5 * time.Minute

	// DefaultRateLimitInterval is how often expired rate limit windows are purged
	DefaultRateLimitInterval = 15 * time.Minute
)

// Cleaner removes expired state and returns how many items were removed
type Cleaner interface {
	Cleanup() int
}

// CleanerFunc adapts a function to the Cleaner interface
type CleanerFunc func() int

// Cleanup calls f
func (f CleanerFunc) Cleanup() int {
	return f()
}

type task struct {
	name     string
	cleaner  Cleaner
	interval time.Duration
}

// Scheduler runs each registered Cleaner on its own ticker
type Scheduler struct {
	mu      sync.Mutex
	tasks   []task
	logger  *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger used to report sweeps. A nil logger keeps the
// no-op default.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCleaner registers a cleaner under a name. A non-positive interval
// leaves the cleaner unscheduled.
func WithCleaner(name string, c Cleaner, interval time.Duration) Option {
	return func(s *Scheduler) {
		s.Add(name, c, interval)
	}
}

// NewScheduler creates a scheduler. It does nothing until Start is called.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: zap.NewNop(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDefault schedules the cache and the rate limiter with the default intervals
func NewDefault(cacheCleaner, limiterCleaner Cleaner, logger *zap.Logger) *Scheduler {
	return NewScheduler(
		WithLogger(logger),
		WithCleaner("cache", cacheCleaner, DefaultCacheInterval),
		WithCleaner("ratelimit", limiterCleaner, DefaultRateLimitInterval),
	)
}

// Add registers a cleaner. Cleaners added after Start are not scheduled.
func (s *Scheduler) Add(name string, c Cleaner, interval time.Duration) {
	if c == nil || interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.logger.Warn("cleaner registered after start is ignored", zap.String("cleaner", name))
		return
	}
	s.tasks = append(s.tasks, task{name: name, cleaner: c, interval: interval})
}

// Start launches one goroutine per cleaner. Calling Start more than once,
// or after Stop, has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.run(t)
	}
	s.logger.Info("cleanup scheduler started", zap.Int("cleaners", len(s.tasks)))
}

// Stop halts all sweeps and waits for running ones to finish. It is safe to
// call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// RunOnce sweeps every cleaner synchronously and returns the total removed
func (s *Scheduler) RunOnce() int {
	s.mu.Lock()
	tasks := append([]task(nil), s.tasks...)
	s.mu.Unlock()

	total := 0
	for _, t := range tasks {
		total += s.sweep(t)
	}
	return total
}

func (s *Scheduler) run(t task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(t)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) sweep(t task) (removed int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cleanup panicked",
				zap.String("cleaner", t.name),
				zap.Any("panic", r),
			)
			removed = 0
		}
	}()

	removed = t.cleaner.Cleanup()
	if removed > 0 {
		s.logger.Info("cleanup removed expired entries",
			zap.String("cleaner", t.name),
			zap.Int("removed", removed),
		)
	} else {
		s.logger.Debug("cleanup found nothing to remove", zap.String("cleaner", t.name))
	}
	return removed
}
