// Package ratelimit implements the in-memory sliding-window throttle used in
// front of login and the rest of the API.
//
// State lives only in process memory. It is lost on restart and is not shared
// between processes.
package ratelimit

import (
	"sync"
	"time"

	"github.com/org/sitepanel/internal/clock"
)

// DefaultSweepInterval is the minimum time between two sweeps of stale entries.
const DefaultSweepInterval = time.Minute

// Policy configures one throttled scope.
type Policy struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	Window        time.Duration `yaml:"window"`
	BlockDuration time.Duration `yaml:"block"`
}

// Result is the outcome of a Check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type entry struct {
	count        int
	firstAttempt time.Time
	blockedUntil time.Time
	window       time.Duration
}

// Limiter tracks attempts per key.
type Limiter struct {
	mu            sync.Mutex
	entries       map[string]*entry
	clock         clock.Clock
	sweepInterval time.Duration
	lastSweep     time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = clock.OrReal(c) }
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) { l.sweepInterval = d }
}

// New creates an empty Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		entries:       make(map[string]*entry),
		clock:         clock.Real,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.clock.Now()
	return l
}

// Check records an attempt for key and reports whether it is admitted.
func (l *Limiter) Check(key string, p Policy) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.maybeSweep(now)

	e, ok := l.entries[key]
	if ok && now.Before(e.blockedUntil) {
		return Result{RetryAfter: e.blockedUntil.Sub(now)}
	}

	// An expired block also restarts the window, otherwise a block shorter
	// than the window would re-block on the very next attempt.
	if !ok || now.Sub(e.firstAttempt) > p.Window || !e.blockedUntil.IsZero() {
		l.entries[key] = &entry{count: 1, firstAttempt: now, window: p.Window}
		return Result{Allowed: true, Remaining: max(p.MaxAttempts-1, 0)}
	}

	e.count++
	if e.count > p.MaxAttempts {
		e.blockedUntil = now.Add(p.BlockDuration)
		return Result{RetryAfter: p.BlockDuration}
	}
	return Result{Allowed: true, Remaining: p.MaxAttempts - e.count}
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// maybeSweep drops entries whose block and window have both passed.
// Caller holds l.mu.
func (l *Limiter) maybeSweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.sweepInterval {
		return
	}
	l.lastSweep = now
	for key, e := range l.entries {
		if !now.Before(e.blockedUntil) && now.Sub(e.firstAttempt) > e.window {
			delete(l.entries, key)
		}
	}
}
