// Package session tracks the time-boxed unlock window that gates vault access.
package session

import (
	"sync/atomic"
	"time"
)

// UnlockWindow is how long a successful authentication keeps the vault open.
const UnlockWindow = 5 * time.Minute

var processStart = time.Now()

// Now returns milliseconds on the process monotonic clock. Wall-clock changes do not affect it.
func Now() int64 {
	return time.Since(processStart).Milliseconds()
}

// Gate holds the first instant after the current unlock window. The zero value
// is locked: every non-negative clock reading is at or after 0.
type Gate struct {
	lockAt atomic.Int64
}

// NewGate returns a locked gate.
func NewGate() *Gate {
	return &Gate{}
}

// Unlock opens the window until now + UnlockWindow, inclusive. A later Unlock replaces an earlier one.
func (g *Gate) Unlock(now int64) {
	g.lockAt.Store(now + UnlockWindow.Milliseconds() + 1)
}

// IsUnlocked reports whether now is at or before the end of the window.
func (g *Gate) IsUnlocked(now int64) bool {
	return now < g.lockAt.Load()
}

// Clear locks the gate immediately.
func (g *Gate) Clear() {
	g.lockAt.Store(0)
}

// UnlockNow is Unlock(Now()).
func (g *Gate) UnlockNow() { g.Unlock(Now()) }

// IsUnlockedNow is IsUnlocked(Now()).
func (g *Gate) IsUnlockedNow() bool { return g.IsUnlocked(Now()) }

