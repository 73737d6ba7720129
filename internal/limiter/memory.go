package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory is a process-local limiter: attempts are paced by a token bucket and
// maxFails failures within window block further attempts for blockFor.
type Memory struct {
	mu       sync.Mutex
	pace     *rate.Limiter
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time

	fails        int
	lastFail     time.Time
	blockedUntil time.Time
}

var _ Limiter = (*Memory)(nil)

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithPace allows one attempt per every, with bursts of burst.
func WithPace(every time.Duration, burst int) MemoryOption {
	return func(m *Memory) { m.pace = rate.NewLimiter(rate.Every(every), burst) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory constructs an in-memory limiter. Without WithPace attempts are not paced.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		pace:     rate.NewLimiter(rate.Inf, 1),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Allow reports whether an attempt may start now.
func (m *Memory) Allow(ctx context.Context) (bool, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.blockedUntil.After(now) {
		return false, m.blockedUntil.Sub(now), nil
	}
	r := m.pace.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, nil
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d, nil
	}
	return true, 0, nil
}

// Success resets failure counters and any block.
func (m *Memory) Success(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails = 0
	m.lastFail = time.Time{}
	m.blockedUntil = time.Time{}
	return nil
}

// Failure records a failed attempt. The count restarts when the previous failure is older than window.
func (m *Memory) Failure(ctx context.Context) (bool, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastFail.IsZero() || now.Sub(m.lastFail) > m.window {
		m.fails = 1
	} else {
		m.fails++
	}
	m.lastFail = now

	if m.maxFails > 0 && m.fails >= m.maxFails {
		m.blockedUntil = now.Add(m.blockFor)
		m.fails = 0
		return true, m.blockFor, nil
	}
	return false, 0, nil
}
