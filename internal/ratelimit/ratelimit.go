package ratelimit

import (
	"context"
	"sync"
	"time"
)

// HostLimiter serializes requests to one host and enforces a minimum gap
// between them. Acquire blocks until the slot is free and the configured
// spacing since the previous Release has elapsed.
type HostLimiter struct {
	spacing time.Duration

	slot chan struct{}

	mu          sync.Mutex
	lastRelease time.Time
}

func NewHostLimiter(spacing time.Duration) *HostLimiter {
	l := &HostLimiter{
		spacing: spacing,
		slot:    make(chan struct{}, 1),
	}
	l.slot <- struct{}{}
	return l
}

func (l *HostLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.slot:
	}

	l.mu.Lock()
	wait := l.spacing - time.Since(l.lastRelease)
	l.mu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			l.slot <- struct{}{}
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil
}

func (l *HostLimiter) Release() {
	l.mu.Lock()
	l.lastRelease = time.Now()
	l.mu.Unlock()

	select {
	case l.slot <- struct{}{}:
	default:
	}
}

// Keyed hands out one HostLimiter per host key. Two different hosts never
// contend with each other; the map itself is only locked long enough to
// resolve or create an entry.
type Keyed struct {
	spacing  time.Duration
	mu       sync.Mutex
	limiters map[string]*HostLimiter
}

func NewKeyed(spacing time.Duration) *Keyed {
	return &Keyed{
		spacing:  spacing,
		limiters: make(map[string]*HostLimiter),
	}
}

func (k *Keyed) For(host string) *HostLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[host]
	if !ok {
		l = NewHostLimiter(k.spacing)
		k.limiters[host] = l
	}
	return l
}
