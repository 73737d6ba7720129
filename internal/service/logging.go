package service

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/devnik/vaultcam/internal/errs"
	model "github.com/devnik/vaultcam/internal/model"
)

// WithLogging wraps next with structured logging and panic recovery.
// A recovered panic is reported as errs.ErrInternal.
func WithLogging(next VaultService, log *zap.Logger) VaultService {
	if log == nil {
		log = zap.NewNop()
	}
	return &loggingService{next: next, log: log}
}

type loggingService struct {
	next VaultService
	log  *zap.Logger
}

// Outcome classifies err for logs and exit codes without exposing its text.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrLocked):
		return "locked"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, errs.ErrKeysetCorrupt):
		return "keyset_corrupt"
	case errors.Is(err, errs.ErrKeyGeneration):
		return "key_generation"
	case errors.Is(err, errs.ErrInvalidID):
		return "invalid_id"
	case errors.Is(err, errs.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, errs.ErrInternal):
		return "internal"
	default:
		return "error"
	}
}

func (s *loggingService) call(op string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic",
				zap.Any("reason", r),
				zap.ByteString("stack", debug.Stack()),
				zap.String("op", op),
			)
			err = errs.ErrInternal
		}
		// metadata only, never content or error text
		s.log.Info("vault",
			zap.String("op", op),
			zap.String("outcome", Outcome(err)),
			zap.Duration("dur", time.Since(start)),
		)
	}()
	return fn()
}

func (s *loggingService) Save(ctx context.Context, plaintext []byte) (id string, err error) {
	err = s.call("Save", func() (e error) {
		id, e = s.next.Save(ctx, plaintext)
		return e
	})
	return id, err
}

func (s *loggingService) List(ctx context.Context) (items []model.VaultItem, err error) {
	err = s.call("List", func() (e error) {
		items, e = s.next.List(ctx)
		return e
	})
	return items, err
}

func (s *loggingService) Open(ctx context.Context, id string) (pt []byte, err error) {
	err = s.call("Open", func() (e error) {
		pt, e = s.next.Open(ctx, id)
		return e
	})
	return pt, err
}

func (s *loggingService) Delete(ctx context.Context, id string) (ok bool, err error) {
	err = s.call("Delete", func() (e error) {
		ok, e = s.next.Delete(ctx, id)
		return e
	})
	return ok, err
}

func (s *loggingService) Rotate(ctx context.Context, id string) (ok bool, err error) {
	err = s.call("Rotate", func() (e error) {
		ok, e = s.next.Rotate(ctx, id)
		return e
	})
	return ok, err
}

func (s *loggingService) Wipe(ctx context.Context) error {
	return s.call("Wipe", func() error { return s.next.Wipe(ctx) })
}
