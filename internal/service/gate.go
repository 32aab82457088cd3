package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/repository"
)

// GateService exposes the global login gate.
type GateService interface {
	// Locked reads the current gate state.
	Locked(ctx context.Context) (bool, error)
	// SetLocked flips the gate; admin only.
	SetLocked(ctx context.Context, p model.Principal, locked bool) error
	// Watch calls fn with the current state and then with every change it
	// observes. Changes are detected by polling, so a subscriber may see a new
	// state up to one poll interval late. Watch returns when ctx is done or fn
	// returns an error.
	Watch(ctx context.Context, fn func(locked bool) error) error
}

// GateServiceImpl polls the settings store.
type GateServiceImpl struct {
	settings repository.SettingsRepository
	poll     time.Duration
	log      *zap.Logger
}

// NewGateService constructs the gate service.
func NewGateService(settings repository.SettingsRepository, poll time.Duration, log *zap.Logger) *GateServiceImpl {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GateServiceImpl{settings: settings, poll: poll, log: log}
}

// Locked implements GateService.
func (g *GateServiceImpl) Locked(ctx context.Context) (bool, error) {
	return g.settings.LoginLocked(ctx)
}

// SetLocked implements GateService.
func (g *GateServiceImpl) SetLocked(ctx context.Context, p model.Principal, locked bool) error {
	if !p.Role.CanMutate() {
		return errs.ErrForbidden
	}
	if err := g.settings.SetLoginLocked(ctx, locked); err != nil {
		return err
	}
	g.log.Info("login gate changed", zap.Bool("locked", locked), zap.String("by", p.UserID.String()))
	return nil
}

// Watch implements GateService. Transient read errors are logged and the
// last known state is kept.
func (g *GateServiceImpl) Watch(ctx context.Context, fn func(bool) error) error {
	last, err := g.settings.LoginLocked(ctx)
	if err != nil {
		return err
	}
	if err := fn(last); err != nil {
		return err
	}

	t := time.NewTicker(g.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		cur, err := g.settings.LoginLocked(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			g.log.Warn("gate poll failed", zap.Error(err))
			continue
		}
		if cur == last {
			continue
		}
		last = cur
		if err := fn(cur); err != nil {
			return err
		}
	}
}

// checkGate refuses students while the gate is locked. Admins pass.
func checkGate(ctx context.Context, settings repository.SettingsRepository, p model.Principal) error {
	if p.Role.IsAdmin() {
		return nil
	}
	locked, err := settings.LoginLocked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return errs.ErrLoginLocked
	}
	return nil
}
