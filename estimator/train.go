// Package estimator - Trainingsschleife
//
// Dieses Modul enthaelt:
// - Train/TrainWithHooks: Trainiert bis ein Stopp-Kriterium greift
// - needsToTrain: Ueberspringt das Training, wenn der Checkpoint schon weit genug ist
// - trainingHooks: Eingebaute Hooks (Stopp, NaN, Logging, Checkpoints, Summaries)
package estimator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/hooks"
	"github.com/ollama/estimator/ml"
	"github.com/ollama/estimator/model"
	"github.com/ollama/estimator/session"
	"github.com/ollama/estimator/summary"
)

// TrainRun is the summary run written by training.
const TrainRun = "train"

// Train trains with the default hooks until stop is satisfied, the data
// is exhausted or a hook requests stop.
func (e *Estimator) Train(ctx context.Context, data ml.Dataset, stop StopCriteria) error {
	return e.TrainWithHooks(ctx, data, stop, nil, nil, nil)
}

// TrainWithHooks trains with the given hooks. Nil arguments fall back to
// the defaults given to New.
func (e *Estimator) TrainWithHooks(ctx context.Context, data ml.Dataset, stop StopCriteria, general, chiefOnly []hooks.Hook, board *TensorBoardConfig) error {
	if data == nil {
		return fmt.Errorf("%w: training needs a dataset", ErrInvalidArgument)
	}

	log := logger().With("mode", "train")

	ok, err := e.needsToTrain(stop)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("skipping training since max steps has already been saved", "max_steps", stop.MaxSteps)
		return nil
	}

	if board == nil {
		board = e.board
	}
	if board != nil && e.config.IsChief() {
		stopBoard, err := board.start(ctx, e.config.WorkDir)
		if err != nil {
			return err
		}
		defer stopBoard()
	}

	m, err := e.newModel()
	if err != nil {
		return err
	}

	g := newGraph()
	g.CreateGlobalEpoch()
	ops, err := m.BuildTrainingOps(g)
	if err != nil {
		return fmt.Errorf("build training ops: %w", err)
	}
	if ops.Input == nil || ops.TrainOp == nil {
		return fmt.Errorf("%w: training ops need an input and a train op", ErrInvalidArgument)
	}

	train := g.Group("train_op", ops.TrainOp, g.GlobalStep.AssignAdd(1))
	init := ops.Input.Initializer(data, ml.Epochs(stop.epochs()), ml.CountEpochs(g.GlobalEpoch))

	hs, closers, err := e.trainingHooks(ops, stop)
	if err != nil {
		return err
	}
	hs.general = append(hs.general, orDefault(general, e.hooks)...)
	hs.chiefOnly = append(hs.chiefOnly, orDefault(chiefOnly, e.chiefOnlyHooks)...)

	backend, err := e.backend()
	if err != nil {
		closeAll(closers)
		return err
	}

	s, err := session.New(ctx, session.Options{
		Graph:         g,
		Backend:       backend,
		Config:        e.config.sessionConfig(),
		Hooks:         hooks.NewChain(hs.general, hs.chiefOnly, e.config.IsChief()),
		CheckpointDir: e.config.WorkDir,
		Saver:         e.saver(),
		LocalInit:     []*ml.Node{init},
		Closers:       closers,
	})
	if err != nil {
		return err
	}

	start, _ := s.GlobalStep()
	log.Info("training", "global_step", start, "restored", s.Restored())

	for !s.ShouldStop() {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, s.Close())
		}

		_, outcome, err := s.Run(ctx, nil, train)
		switch outcome {
		case session.RecoverableFault:
			log.Warn("training stopped by a recoverable fault", "error", err)
			return nil
		case session.FatalFault:
			return err
		}
	}

	end, _ := s.GlobalStep()
	if err := s.Close(); err != nil {
		return err
	}

	log.Info("training finished", "global_step", end, "steps", end-start)
	return nil
}

// needsToTrain reports whether the latest checkpoint is short of
// stop.MaxSteps. Unreadable checkpoints are errors.
func (e *Estimator) needsToTrain(stop StopCriteria) (bool, error) {
	if stop.RestartCounting || stop.MaxSteps <= 0 {
		return true, nil
	}

	path, ok := checkpoint.Latest(e.config.WorkDir)
	if !ok {
		return true, nil
	}

	step, ok, err := checkpoint.ReadScalar(path, ml.GlobalStepName)
	if err != nil {
		return false, fmt.Errorf("read global step: %w", err)
	}
	return !ok || step.Int() < stop.MaxSteps, nil
}

type hookGroups struct {
	general   []hooks.Hook
	chiefOnly []hooks.Hook
}

// trainingHooks returns the built-in hooks of a training call and the
// summary writer the session must close.
func (e *Estimator) trainingHooks(ops model.TrainOps, stop StopCriteria) (hookGroups, []io.Closer, error) {
	var hs hookGroups
	if stop.MaxSteps > 0 {
		h := &hooks.StopAtStep{LastStep: stop.MaxSteps}
		if stop.RestartCounting {
			h = &hooks.StopAtStep{NumSteps: stop.MaxSteps}
		}
		hs.general = append(hs.general, h)
	}
	if stop.MaxDuration > 0 {
		hs.general = append(hs.general, &hooks.StopAfter{Duration: stop.MaxDuration})
	}

	if ops.Loss != nil {
		hs.general = append(hs.general,
			hooks.NewNanGuard(ops.Loss),
			&hooks.Logging{
				Tensors: map[string]*ml.Node{"loss": ops.Loss},
				Every:   hooks.Timer{EverySteps: e.config.LogSteps},
			},
		)
	}

	if e.config.WorkDir == "" || !e.config.IsChief() {
		hs.general = append(hs.general, &hooks.StepCounter{Every: hooks.Timer{EverySteps: e.config.LogSteps}})
		return hs, nil, nil
	}

	hs.chiefOnly = append(hs.chiefOnly, &hooks.CheckpointSaver{
		Saver: e.saver(),
		Every: hooks.Timer{EverySteps: e.config.Checkpoint.SaveSteps, EverySecs: e.config.Checkpoint.SaveSecs},
	})

	if e.config.SummarySteps <= 0 {
		return hs, nil, nil
	}

	w, err := summary.NewWriter(e.config.WorkDir, TrainRun)
	if err != nil {
		return hookGroups{}, nil, err
	}

	scalars := map[string]*ml.Node{}
	for tag, n := range ops.Summaries {
		scalars[tag] = n
	}
	if ops.Loss != nil {
		scalars["loss"] = ops.Loss
	}

	every := hooks.Timer{EverySteps: e.config.SummarySteps}
	hs.chiefOnly = append(hs.chiefOnly,
		&hooks.SummarySaver{Writer: w, Scalars: scalars, Every: every},
		&hooks.StepCounter{Writer: w, Every: every},
	)
	return hs, []io.Closer{w}, nil
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		if err := c.Close(); err != nil {
			logger().Warn("close", "error", err)
		}
	}
}
