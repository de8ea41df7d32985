// Package ratelimit implements fixed-window rate limiting for the write
// endpoints of the reference server.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Policy allows Limit actions per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter defines the rate limiting interface
type Limiter interface {
	// Allow counts an action for key and reports whether it is within policy.
	Allow(ctx context.Context, key string, p Policy) (Decision, error)
}

// MemoryLimiter is an in-memory rate limiter implementation
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	count     int
	resetTime time.Time
}

// NewMemoryLimiter creates a new in-memory rate limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, p Policy) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]

	if !ok || !now.Before(b.resetTime) {
		b = &bucket{resetTime: now.Add(p.Window)}
		l.buckets[key] = b
	}

	if b.count >= p.Limit {
		return Decision{RetryAfter: b.resetTime.Sub(now)}, nil
	}

	b.count++
	return Decision{Allowed: true, Remaining: p.Limit - b.count}, nil
}

// Cleanup removes expired buckets to prevent memory leaks
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if !now.Before(b.resetTime) {
			delete(l.buckets, key)
		}
	}
}

// RunCleanup periodically removes expired buckets until ctx is done.
func (l *MemoryLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Ensure MemoryLimiter implements Limiter
var _ Limiter = (*MemoryLimiter)(nil)
