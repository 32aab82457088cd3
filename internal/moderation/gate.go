// Package moderation implements the pre-generation content gate.
//
// Every prompt passes through Gate.Evaluate before the image backend is
// called. The gate fails closed: any classifier error, timeout or malformed
// verdict is reported as a SYSTEM_ERROR block together with
// errs.ErrModerationUnavailable.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/model"
	"github.com/and161185/slotkeeper/internal/policy"
)

// Classifier scores a prompt against the policy of one slot.
type Classifier interface {
	Classify(ctx context.Context, prompt string, sc model.SlotContext) (model.Verdict, error)
}

// Gate wraps a Classifier with a timeout and verdict validation.
type Gate struct {
	cls     Classifier
	timeout time.Duration
	log     *zap.Logger
}

// NewGate constructs a gate. A non-positive timeout disables the bound.
func NewGate(cls Classifier, timeout time.Duration, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{cls: cls, timeout: timeout, log: log}
}

// SystemError is the fail-closed verdict.
func SystemError() model.Verdict {
	return model.Verdict{
		Allowed:     false,
		BlockReason: model.BlockSystemError,
		Explanation: policy.Message(model.BlockSystemError),
	}
}

type result struct {
	v   model.Verdict
	err error
}

// Evaluate classifies prompt for slotIndex. A nil error means the verdict is
// well-formed; the caller still has to check Allowed.
func (g *Gate) Evaluate(ctx context.Context, prompt string, slotIndex int) (model.Verdict, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	sc := policy.Context(slotIndex)

	// The classifier runs in its own goroutine so a backend that ignores ctx
	// still cannot hold the request past the deadline.
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("classifier panic: %v", r)}
			}
		}()
		v, err := g.cls.Classify(ctx, prompt, sc)
		ch <- result{v: v, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	}
	if res.err != nil {
		g.log.Warn("moderation failed closed", zap.Int("slot", slotIndex), zap.Error(res.err))
		return SystemError(), fmt.Errorf("%w: %v", errs.ErrModerationUnavailable, res.err)
	}
	if err := check(res.v); err != nil {
		g.log.Warn("moderation verdict rejected", zap.Int("slot", slotIndex), zap.Error(err))
		return SystemError(), fmt.Errorf("%w: %v", errs.ErrModerationUnavailable, err)
	}

	v := res.v
	if !v.Allowed {
		// The user sees the fixed table text; the classifier's explanation
		// is only logged.
		g.log.Info("prompt blocked",
			zap.Int("slot", slotIndex),
			zap.String("reason", string(v.BlockReason)),
			zap.String("explanation", v.Explanation),
		)
		v.Explanation = policy.Message(v.BlockReason)
	}
	return v, nil
}

var (
	errUnknownReason = errors.New("unknown block reason")
	errContradictory = errors.New("contradictory verdict")
)

func check(v model.Verdict) error {
	switch {
	case !v.BlockReason.Valid():
		return fmt.Errorf("%w %q", errUnknownReason, v.BlockReason)
	case v.Allowed && v.BlockReason != model.BlockNone:
		return fmt.Errorf("%w: allowed with reason %s", errContradictory, v.BlockReason)
	case !v.Allowed && v.BlockReason == model.BlockNone:
		return fmt.Errorf("%w: blocked without reason", errContradictory)
	case v.BlockReason == model.BlockSystemError:
		return errors.New("classifier reported a system error")
	}
	return nil
}
