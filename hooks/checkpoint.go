// Package hooks - Checkpoint-Speicherung
package hooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/ml"
)

// CheckpointSaver saves a checkpoint whenever Every triggers, when a fresh
// session starts without one, and at End. It belongs in the chief-only
// group.
type CheckpointSaver struct {
	Saver *checkpoint.Saver
	Every Timer

	graph    *ml.Graph
	saved    int64
	hasSaved bool
}

func (h *CheckpointSaver) Name() string { return "CheckpointSaver" }

func (h *CheckpointSaver) Begin(g *ml.Graph) error {
	if h.Saver == nil {
		return errors.New("CheckpointSaver requires a saver")
	}
	if g.GlobalStep == nil {
		return errors.New("global step must be created before CheckpointSaver is used")
	}

	h.Every.Reset()
	h.graph = g
	h.saved, h.hasSaved = 0, false
	return nil
}

func (h *CheckpointSaver) save(s ml.Session) error {
	if _, err := h.Saver.Save(h.graph, s.State()); err != nil {
		return err
	}
	a, _ := s.State().Get(ml.GlobalStepName)
	h.saved, h.hasSaved = a.Int(), true
	return nil
}

func (h *CheckpointSaver) AfterCreateSession(_ context.Context, s ml.Session) error {
	a, ok := s.State().Get(ml.GlobalStepName)
	if !ok {
		return fmt.Errorf("%w: global step is not initialized", ml.ErrFailedPrecondition)
	}

	// intervals count from the step the session starts at
	h.Every.Update(a.Int(), time.Now())

	if _, ok := checkpoint.Latest(h.Saver.Dir); ok {
		return nil
	}
	return h.save(s)
}

func (h *CheckpointSaver) BeforeRun(*RunContext) (RunArgs, error) { return RunArgs{}, nil }

func (h *CheckpointSaver) AfterRun(rc *RunContext, _ RunValues) error {
	step, err := counter(rc.Session, ml.GlobalStepName)
	if err != nil {
		return err
	}

	now := time.Now()
	if !h.Every.ShouldTrigger(step, now) {
		return nil
	}
	h.Every.Update(step, now)

	if h.hasSaved && h.saved == step {
		return nil
	}
	return h.save(rc.Session)
}

func (h *CheckpointSaver) End(_ context.Context, s ml.Session) error {
	a, ok := s.State().Get(ml.GlobalStepName)
	if !ok || (h.hasSaved && h.saved == a.Int()) {
		return nil
	}
	return h.save(s)
}
