// Package ratelimit bounds generator calls across all sessions of a process.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	// MaxConcurrent is the number of calls allowed in flight.
	MaxConcurrent int
	// PerMinute caps call starts; zero disables the rate cap.
	PerMinute int
	Burst     int
}

// FIFOLimiter hands out slots strictly in arrival order.
type FIFOLimiter struct {
	mu      sync.Mutex
	free    int
	waiters *list.List
	rate    *rate.Limiter
}

func NewFIFOLimiter(cfg Config) *FIFOLimiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	l := &FIFOLimiter{free: cfg.MaxConcurrent, waiters: list.New()}
	if cfg.PerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), burst)
	}
	return l
}

// Acquire blocks until the caller owns a slot. The returned release must be
// called exactly once; extra calls are ignored.
func (l *FIFOLimiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.acquireSlot(ctx); err != nil {
		return nil, err
	}
	var once sync.Once
	release := func() { once.Do(l.releaseSlot) }

	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}

func (l *FIFOLimiter) acquireSlot(ctx context.Context) error {
	l.mu.Lock()
	if l.free > 0 && l.waiters.Len() == 0 {
		l.free--
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// Granted while cancelling: pass the slot on.
			l.mu.Unlock()
			l.releaseSlot()
		default:
			l.waiters.Remove(elem)
			l.mu.Unlock()
		}
		return ctx.Err()
	}
}

func (l *FIFOLimiter) releaseSlot() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if front := l.waiters.Front(); front != nil {
		l.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	l.free++
}

// Waiting reports the number of queued callers.
func (l *FIFOLimiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}
