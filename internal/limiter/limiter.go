// Package limiter defines interfaces and implementations for unlock attempt limiting.
package limiter

import (
	"context"
	"time"
)

// Limiter controls unlock attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and optional retry-after.
	Allow(ctx context.Context) (bool, time.Duration, error)
	// Success resets counters after a successful unlock.
	Success(ctx context.Context) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context) (bool, time.Duration, error)
}
