// Package hooks - Periodisches Logging
package hooks

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/ollama/estimator/ml"
)

// Logging logs the values of Tensors together with the global step
// whenever Every triggers. It logs a final line at End.
type Logging struct {
	Tensors map[string]*ml.Node
	Every   Timer
	Logger  *slog.Logger

	keys  []string
	nodes []*ml.Node
	last  []any
	step  int64
}

func (h *Logging) Name() string { return "Logging" }

func (h *Logging) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Logging) Begin(g *ml.Graph) error {
	if g.GlobalStep == nil {
		return errors.New("global step must be created before Logging is used")
	}

	h.Every.Reset()
	h.keys = slices.Sorted(maps.Keys(h.Tensors))
	h.nodes = nil
	for _, k := range h.keys {
		h.nodes = append(h.nodes, h.Tensors[k])
	}
	h.last = nil
	return nil
}

func (h *Logging) BeforeRun(*RunContext) (RunArgs, error) {
	return RunArgs{Fetches: h.nodes}, nil
}

func (h *Logging) AfterRun(rc *RunContext, v RunValues) error {
	step, err := counter(rc.Session, ml.GlobalStepName)
	if err != nil {
		return err
	}
	h.step = step
	h.last = v.Results

	now := time.Now()
	if !h.Every.ShouldTrigger(h.step, now) {
		return nil
	}

	elapsed, _ := h.Every.Update(h.step, now)
	args := h.attrs()
	if elapsed > 0 {
		args = append(args, "elapsed", elapsed.Round(time.Millisecond))
	}
	h.logger().Info("step", args...)
	return nil
}

func (h *Logging) attrs() []any {
	args := []any{"global_step", h.step}
	for i, k := range h.keys {
		if i < len(h.last) {
			args = append(args, k, h.last[i])
		}
	}
	return args
}

func (h *Logging) End(context.Context, ml.Session) error {
	if last, ok := h.Every.LastStep(); h.last != nil && (!ok || last != h.step) {
		h.logger().Info("final step", h.attrs()...)
	}
	return nil
}
