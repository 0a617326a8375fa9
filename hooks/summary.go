// Package hooks - Zusammenfassungen
//
// Dieses Modul enthaelt:
// - ScalarWriter: Ziel fuer Skalar-Werte (summary.Writer)
// - SummarySaver: Schreibt periodisch Skalar-Tensoren
// - StepCounter: Schreibt und loggt Schritte pro Sekunde
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/ollama/estimator/logutil"
	"github.com/ollama/estimator/ml"
)

// ScalarWriter receives tagged scalar values.
type ScalarWriter interface {
	Add(tag string, step int64, value float64) error
}

// SummarySaver writes the scalar value of every node in Scalars whenever
// Every triggers.
type SummarySaver struct {
	Writer  ScalarWriter
	Scalars map[string]*ml.Node
	Every   Timer

	tags  []string
	nodes []*ml.Node
}

func (h *SummarySaver) Name() string { return "SummarySaver" }

func (h *SummarySaver) Begin(g *ml.Graph) error {
	if h.Writer == nil {
		return errors.New("SummarySaver requires a writer")
	}
	if g.GlobalStep == nil {
		return errors.New("global step must be created before SummarySaver is used")
	}

	h.Every.Reset()
	h.tags = slices.Sorted(maps.Keys(h.Scalars))
	h.nodes = nil
	for _, tag := range h.tags {
		h.nodes = append(h.nodes, h.Scalars[tag])
	}
	return nil
}

func (h *SummarySaver) BeforeRun(*RunContext) (RunArgs, error) {
	return RunArgs{Fetches: h.nodes}, nil
}

func (h *SummarySaver) AfterRun(rc *RunContext, v RunValues) error {
	step, err := counter(rc.Session, ml.GlobalStepName)
	if err != nil {
		return err
	}

	now := time.Now()
	if !h.Every.ShouldTrigger(step, now) {
		return nil
	}
	h.Every.Update(step, now)

	for i, tag := range h.tags {
		value, err := v.Array(i)
		if err != nil {
			return fmt.Errorf("summary %s: %w", tag, err)
		}
		if err := h.Writer.Add(tag, step, value.Float()); err != nil {
			return err
		}
	}
	logutil.Trace("wrote summaries", "step", step, "tags", len(h.tags))
	return nil
}

func (h *SummarySaver) End(context.Context, ml.Session) error { return nil }

// StepCounterTag is the summary tag written by StepCounter.
const StepCounterTag = "global_step/sec"

// StepCounter measures global steps per second between triggers. It writes
// to Writer when set and logs otherwise.
type StepCounter struct {
	Writer ScalarWriter
	Every  Timer
}

func (h *StepCounter) Name() string { return "StepCounter" }

func (h *StepCounter) Begin(g *ml.Graph) error {
	if g.GlobalStep == nil {
		return errors.New("global step must be created before StepCounter is used")
	}
	h.Every.Reset()
	return nil
}

func (h *StepCounter) BeforeRun(*RunContext) (RunArgs, error) { return RunArgs{}, nil }

func (h *StepCounter) AfterRun(rc *RunContext, _ RunValues) error {
	step, err := counter(rc.Session, ml.GlobalStepName)
	if err != nil {
		return err
	}

	now := time.Now()
	if !h.Every.ShouldTrigger(step, now) {
		return nil
	}

	elapsed, steps := h.Every.Update(step, now)
	if elapsed <= 0 || steps <= 0 {
		return nil
	}

	rate := float64(steps) / elapsed.Seconds()
	if h.Writer != nil {
		return h.Writer.Add(StepCounterTag, step, rate)
	}
	slog.Info(StepCounterTag, "step", step, "rate", rate)
	return nil
}

func (h *StepCounter) End(context.Context, ml.Session) error { return nil }
