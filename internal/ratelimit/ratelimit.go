// Package ratelimit locks out clients that keep presenting rejected tokens.
package ratelimit

import (
	"sync"
	"time"
)

const (
	MaxAttempts     = 40               // Max failed attempts before lockout
	AttemptWindow   = 10 * time.Minute // 10 minute sliding window
	LockoutDuration = 15 * time.Minute // 15 minute lockout after max attempts
	CleanupInterval = 2 * time.Minute  // Cleanup every 2 minutes
)

// Options tunes a Limiter. Zero fields take the package defaults.
type Options struct {
	MaxAttempts     int
	AttemptWindow   time.Duration
	LockoutDuration time.Duration
	CleanupInterval time.Duration
}

type client struct {
	failedAttempts []time.Time
	lockedUntil    time.Time
}

// Limiter tracks failures per client key.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	opts    Options
	now     func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Result represents the result of a rate limit check
type Result struct {
	Limited           bool
	RetryAfter        time.Duration
	AttemptsRemaining int
}

// NewLimiter creates a limiter and starts its cleanup loop. Call Stop when done.
func NewLimiter(opts Options) *Limiter {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = MaxAttempts
	}
	if opts.AttemptWindow <= 0 {
		opts.AttemptWindow = AttemptWindow
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = LockoutDuration
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = CleanupInterval
	}
	l := &Limiter{
		clients:     make(map[string]*client),
		opts:        opts,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// cleanupLoop periodically cleans up old attempts
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup forgets clients with nothing recent and no active lockout.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, c := range l.clients {
		c.prune(now.Add(-l.opts.AttemptWindow))
		if len(c.failedAttempts) == 0 && !now.Before(c.lockedUntil) {
			delete(l.clients, key)
		}
	}
}

func (c *client) prune(cutoff time.Time) {
	kept := c.failedAttempts[:0]
	for _, ts := range c.failedAttempts {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.failedAttempts = kept
}

// Check reports whether key is locked out.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		return Result{AttemptsRemaining: l.opts.MaxAttempts}
	}

	now := l.now()
	if now.Before(c.lockedUntil) {
		return Result{Limited: true, RetryAfter: c.lockedUntil.Sub(now)}
	}
	if !c.lockedUntil.IsZero() {
		// Lockout expired
		c.lockedUntil = time.Time{}
		c.failedAttempts = nil
	}

	c.prune(now.Add(-l.opts.AttemptWindow))
	return Result{AttemptsRemaining: l.opts.MaxAttempts - len(c.failedAttempts)}
}

// RecordFailure records a rejected attempt by key and returns the attempts
// left. Reaching the limit starts the lockout.
func (l *Limiter) RecordFailure(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{}
		l.clients[key] = c
	}

	now := l.now()
	c.prune(now.Add(-l.opts.AttemptWindow))
	c.failedAttempts = append(c.failedAttempts, now)

	remaining := l.opts.MaxAttempts - len(c.failedAttempts)
	if remaining <= 0 {
		c.lockedUntil = now.Add(l.opts.LockoutDuration)
		remaining = 0
	}
	return remaining
}

// Clear clears the failed attempts of key (on successful sign-in)
func (l *Limiter) Clear(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, key)
}

// Stop stops the cleanup loop
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}
