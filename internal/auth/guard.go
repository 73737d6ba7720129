package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devnik/vaultcam/internal/errs"
	"github.com/devnik/vaultcam/internal/limiter"
	"github.com/devnik/vaultcam/internal/session"
)

// Guard decides whether a secure screen or operation may proceed.
type Guard struct {
	gate     *session.Gate
	launcher Launcher
	limiter  limiter.Limiter
	log      *zap.Logger
}

// NewGuard builds a guard. lim may be nil to disable attempt limiting.
func NewGuard(gate *session.Gate, launcher Launcher, lim limiter.Limiter, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{gate: gate, launcher: launcher, limiter: lim, log: log}
}

// RequireUnlocked reports true immediately while the session is open. Otherwise
// it launches the challenge: success opens the window, any other outcome locks it.
func (g *Guard) RequireUnlocked(ctx context.Context, onResult func(ok bool)) {
	if g.gate.IsUnlockedNow() {
		onResult(true)
		return
	}
	if err := g.allow(ctx); err != nil {
		g.log.Warn("unlock attempt refused", zap.Error(err))
		onResult(false)
		return
	}
	g.challenge(ctx, onResult)
}

// Unlock is the blocking form of RequireUnlocked. It returns errs.ErrRateLimited
// while attempts are blocked and errs.ErrLocked when the challenge fails.
func (g *Guard) Unlock(ctx context.Context) error {
	if g.gate.IsUnlockedNow() {
		return nil
	}
	if err := g.allow(ctx); err != nil {
		return err
	}

	done := make(chan bool, 1)
	g.challenge(ctx, func(ok bool) { done <- ok })
	select {
	case ok := <-done:
		if !ok {
			return errs.ErrLocked
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Guard) allow(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	allowed, retry, err := g.limiter.Allow(ctx)
	if err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retry.Round(time.Second))
	}
	return nil
}

func (g *Guard) challenge(ctx context.Context, onResult func(bool)) {
	g.launcher.Launch(func(ok bool) {
		if ok {
			g.gate.UnlockNow()
			if g.limiter != nil {
				if err := g.limiter.Success(ctx); err != nil {
					g.log.Warn("limiter success", zap.Error(err))
				}
			}
			g.log.Info("vault unlocked")
			onResult(true)
			return
		}

		g.gate.Clear()
		if g.limiter != nil {
			blocked, d, err := g.limiter.Failure(ctx)
			switch {
			case err != nil:
				g.log.Warn("limiter failure", zap.Error(err))
			case blocked:
				g.log.Warn("unlock locked out", zap.Duration("block_for", d))
			}
		}
		g.log.Info("unlock rejected")
		onResult(false)
	})
}
