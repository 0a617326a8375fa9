// Package hooks - NaN-Wache
package hooks

import (
	"context"
	"log/slog"

	"github.com/ollama/estimator/ml"
)

// NanGuard watches Loss after every step. A non-finite loss fails the
// session with ErrNaNLoss, or only requests stop when FailOnNaN is false.
type NanGuard struct {
	Loss      *ml.Node
	FailOnNaN bool
}

// NewNanGuard returns a guard that fails on a non-finite loss.
func NewNanGuard(loss *ml.Node) *NanGuard {
	return &NanGuard{Loss: loss, FailOnNaN: true}
}

func (h *NanGuard) Name() string { return "NanGuard" }

func (h *NanGuard) Begin(*ml.Graph) error { return nil }

func (h *NanGuard) BeforeRun(*RunContext) (RunArgs, error) {
	if h.Loss == nil {
		return RunArgs{}, nil
	}
	return RunArgs{Fetches: []*ml.Node{h.Loss}}, nil
}

func (h *NanGuard) AfterRun(rc *RunContext, v RunValues) error {
	if h.Loss == nil {
		return nil
	}

	a, err := v.Array(0)
	if err != nil {
		return err
	}
	if a.NonFinite() == 0 {
		return nil
	}

	if h.FailOnNaN {
		return ErrNaNLoss
	}

	slog.Warn(ErrNaNLoss.Error(), "loss", a)
	rc.RequestStop()
	return nil
}

func (h *NanGuard) End(context.Context, ml.Session) error { return nil }
