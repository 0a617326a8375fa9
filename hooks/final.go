// Package hooks - Abschluss-Werte
package hooks

import (
	"context"

	"github.com/ollama/estimator/ml"
)

// FinalOps evaluates Values once when the session ends gracefully.
type FinalOps struct {
	Values ml.Fetchable

	result any
	done   bool
}

func (h *FinalOps) Name() string { return "FinalOps" }

func (h *FinalOps) Begin(*ml.Graph) error {
	h.result, h.done = nil, false
	return nil
}

func (h *FinalOps) BeforeRun(*RunContext) (RunArgs, error) { return RunArgs{}, nil }

func (h *FinalOps) AfterRun(*RunContext, RunValues) error { return nil }

func (h *FinalOps) End(ctx context.Context, s ml.Session) error {
	if h.Values == nil {
		return nil
	}

	values, err := s.Run(ctx, h.Values.Nodes())
	if err != nil {
		return err
	}

	h.result, err = h.Values.Decode(values)
	if err != nil {
		return err
	}
	h.done = true
	return nil
}

// Result returns the decoded values and whether End ran.
func (h *FinalOps) Result() (any, bool) {
	return h.result, h.done
}
