// Package ratelimit implements the per-sender fixed window limiter used for
// chat posts. Windows start at a sender's first accepted post and last one
// minute; they are not aligned to a global clock.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	Window = time.Minute

	// Unlimited is reported as Remaining when the limit is disabled.
	Unlimited = -1

	defaultSweepInterval = 5 * time.Minute
)

type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

type rateState struct {
	count       int
	windowStart time.Time
}

type Limiter struct {
	mu     sync.Mutex
	states map[string]*rateState
	now    func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		states: make(map[string]*rateState),
		now:    time.Now,
	}
}

// TryConsume checks and records one post by sender against limitPerMinute.
// A limit of zero or less disables limiting.
func (l *Limiter) TryConsume(sender string, limitPerMinute int) Result {
	if limitPerMinute <= 0 {
		return Result{Allowed: true, Remaining: Unlimited}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st, ok := l.states[sender]
	if !ok || now.Sub(st.windowStart) >= Window {
		l.states[sender] = &rateState{count: 1, windowStart: now}
		return Result{Allowed: true, Remaining: limitPerMinute - 1}
	}

	if st.count >= limitPerMinute {
		return Result{Allowed: false, Remaining: 0}
	}

	st.count++
	return Result{Allowed: true, Remaining: limitPerMinute - st.count}
}

// RetryAfter returns how long until sender's current window expires, or zero
// if the sender has no active window.
func (l *Limiter) RetryAfter(sender string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[sender]
	if !ok {
		return 0
	}

	left := Window - l.now().Sub(st.windowStart)
	if left < 0 {
		return 0
	}
	return left
}

// Sweep drops senders whose window has expired and returns how many were
// removed. A swept sender starts a fresh window on the next post, exactly as
// an expired one would.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for sender, st := range l.states {
		if now.Sub(st.windowStart) >= Window {
			delete(l.states, sender)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// Run sweeps expired state every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
