// Package hooks - Stopp-Hooks
//
// Dieses Modul enthaelt:
// - StopAtStep: Stoppt nach einer Anzahl Schritte oder bei einem globalen Schritt
// - StopAfter: Stoppt nach einer Zeitdauer
// - StopAfterNEvalSteps: Stoppt die Evaluation nach N Schritten
package hooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ollama/estimator/ml"
)

// StopAtStep requests stop once the global step reaches LastStep, or once
// NumSteps steps ran in this session. Exactly one of both must be set.
type StopAtStep struct {
	NumSteps int64
	LastStep int64

	stop int64
}

func (h *StopAtStep) Name() string { return "StopAtStep" }

func (h *StopAtStep) Begin(g *ml.Graph) error {
	if (h.NumSteps > 0) == (h.LastStep > 0) {
		return fmt.Errorf("%w: exactly one of NumSteps and LastStep must be positive", ml.ErrInvalidArgument)
	}
	if g.GlobalStep == nil {
		return errors.New("global step must be created before StopAtStep is used")
	}
	h.stop = h.LastStep
	return nil
}

func (h *StopAtStep) AfterCreateSession(ctx context.Context, s ml.Session) error {
	if h.NumSteps > 0 {
		step, err := counter(s, ml.GlobalStepName)
		if err != nil {
			return err
		}
		h.stop = step + h.NumSteps
	}
	return nil
}

func (h *StopAtStep) BeforeRun(*RunContext) (RunArgs, error) { return RunArgs{}, nil }

func (h *StopAtStep) AfterRun(rc *RunContext, _ RunValues) error {
	step, err := counter(rc.Session, ml.GlobalStepName)
	if err != nil {
		return err
	}
	if step >= h.stop {
		rc.RequestStop()
	}
	return nil
}

func (h *StopAtStep) End(context.Context, ml.Session) error { return nil }

// StopAfter requests stop once Duration has passed since the session was
// created.
type StopAfter struct {
	Duration time.Duration

	start time.Time
}

func (h *StopAfter) Name() string { return "StopAfter" }

func (h *StopAfter) Begin(*ml.Graph) error {
	h.start = time.Now()
	return nil
}

func (h *StopAfter) AfterCreateSession(context.Context, ml.Session) error {
	h.start = time.Now()
	return nil
}

func (h *StopAfter) BeforeRun(*RunContext) (RunArgs, error) { return RunArgs{}, nil }

func (h *StopAfter) AfterRun(rc *RunContext, _ RunValues) error {
	if h.Duration > 0 && time.Since(h.start) >= h.Duration {
		rc.RequestStop()
	}
	return nil
}

func (h *StopAfter) End(context.Context, ml.Session) error { return nil }

// StopAfterNEvalSteps requests stop once the evaluation step reaches N.
// N <= 0 never stops.
type StopAfterNEvalSteps struct {
	N int64
}

func (h *StopAfterNEvalSteps) Name() string { return "StopAfterNEvalSteps" }

func (h *StopAfterNEvalSteps) Begin(g *ml.Graph) error {
	if g.EvalStep == nil {
		return errors.New("eval step must be created before StopAfterNEvalSteps is used")
	}
	return nil
}

func (h *StopAfterNEvalSteps) BeforeRun(*RunContext) (RunArgs, error) { return RunArgs{}, nil }

func (h *StopAfterNEvalSteps) AfterRun(rc *RunContext, _ RunValues) error {
	if h.N <= 0 {
		return nil
	}
	step, err := counter(rc.Session, ml.EvalStepName)
	if err != nil {
		return err
	}
	if step >= h.N {
		rc.RequestStop()
	}
	return nil
}

func (h *StopAfterNEvalSteps) End(context.Context, ml.Session) error { return nil }
