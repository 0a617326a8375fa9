// Package estimator - Evaluation
//
// Dieses Modul enthaelt:
// - EvalOptions/EvalResult: Parameter und Ergebnis einer Evaluation
// - Evaluate/EvaluateWithHooks: Metriken gegen einen Checkpoint berechnen
// - EvaluateContinuously: Jeden neuen Checkpoint des Arbeitsverzeichnisses evaluieren
package estimator

import (
	"context"
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/hooks"
	"github.com/ollama/estimator/metrics"
	"github.com/ollama/estimator/ml"
	"github.com/ollama/estimator/session"
	"github.com/ollama/estimator/summary"
)

// EvalRun is the summary run written by evaluations without a name.
const EvalRun = "eval"

// NoStep is the step of an aborted evaluation.
const NoStep int64 = -1

// EvalStatus tells a completed evaluation from an aborted one.
type EvalStatus int

const (
	EvalCompleted EvalStatus = iota
	EvalAborted
)

func (s EvalStatus) String() string {
	switch s {
	case EvalCompleted:
		return "completed"
	case EvalAborted:
		return "aborted"
	default:
		return fmt.Sprintf("EvalStatus(%d)", int(s))
	}
}

// EvalOptions configure EvaluateWithHooks.
type EvalOptions struct {
	Metrics []metrics.Metric

	// MaxSteps bounds the number of batches. Zero or less evaluates until
	// the data is exhausted.
	MaxSteps int64

	// Hooks fall back to the defaults given to New when nil.
	Hooks []hooks.Hook

	// CheckpointPath defaults to the latest checkpoint of the work dir.
	CheckpointPath string

	// SaveSummaries writes the metric values to the summary run
	// "eval" or "eval_<Name>" of the work dir.
	SaveSummaries bool
	Name          string
}

func (o EvalOptions) run() string {
	if o.Name == "" {
		return EvalRun
	}
	return EvalRun + "_" + o.Name
}

// EvalResult is the outcome of an evaluation. Values are in the order of
// the requested metrics.
type EvalResult struct {
	Status EvalStatus

	// Step is the global step of the evaluated checkpoint, or NoStep.
	Step int64

	// Steps is the number of evaluated batches.
	Steps int64

	Checkpoint string
	Values     *orderedmap.OrderedMap[string, float64]

	// Cause is the recoverable fault that aborted the evaluation.
	Cause error
}

// Evaluate computes ms over at most maxSteps batches of data using the
// latest checkpoint.
func (e *Estimator) Evaluate(ctx context.Context, data ml.Dataset, ms []metrics.Metric, maxSteps int64) (EvalResult, error) {
	return e.EvaluateWithHooks(ctx, data, EvalOptions{Metrics: ms, MaxSteps: maxSteps})
}

// EvaluateWithHooks computes the metrics of opts. Argument errors and a
// missing checkpoint are reported before any graph runs. A recoverable
// fault returns an aborted result without values.
func (e *Estimator) EvaluateWithHooks(ctx context.Context, data ml.Dataset, opts EvalOptions) (EvalResult, error) {
	if err := e.checkEvalArgs(data, opts); err != nil {
		return EvalResult{}, err
	}

	path, err := e.checkpointPath(opts.CheckpointPath)
	if err != nil {
		return EvalResult{}, err
	}

	log := logger().With("mode", "eval", "checkpoint", path)

	m, err := e.newModel()
	if err != nil {
		return EvalResult{}, err
	}

	g := newGraph()
	evalStep := g.CreateEvalStep()
	ops, err := m.BuildEvaluationOps(g, opts.Metrics)
	if err != nil {
		return EvalResult{}, fmt.Errorf("build evaluation ops: %w", err)
	}
	if ops.Input == nil || len(ops.Metrics) != len(opts.Metrics) {
		return EvalResult{}, fmt.Errorf("%w: evaluation ops need an input and %d metrics, got %d", ErrInvalidArgument, len(opts.Metrics), len(ops.Metrics))
	}

	updates := make([]*ml.Node, 0, len(ops.Metrics)+1)
	values := make(ml.Tuple, 0, len(ops.Metrics))
	for _, o := range ops.Metrics {
		updates = append(updates, o.Update)
		values = append(values, o.Value)
	}
	update := g.Group("eval/update", append(updates, evalStep.AssignAdd(1))...)

	final := &hooks.FinalOps{Values: values}
	general := append([]hooks.Hook{&hooks.StopAfterNEvalSteps{N: opts.MaxSteps}, final}, orDefault(opts.Hooks, e.evalHooks)...)

	backend, err := e.backend()
	if err != nil {
		return EvalResult{}, err
	}

	s, err := session.New(ctx, session.Options{
		Graph:          g,
		Backend:        backend,
		Config:         e.config.sessionConfig(),
		Hooks:          hooks.NewChain(general, nil, e.config.IsChief()),
		CheckpointPath: path,
		Saver:          e.saver(),
		LocalInit:      []*ml.Node{ops.Input.Initializer(data)},
	})
	if err != nil {
		return EvalResult{}, err
	}

	step, _ := s.GlobalStep()
	log.Info("evaluating", "global_step", step, "max_steps", opts.MaxSteps)

	for !s.ShouldStop() {
		if err := ctx.Err(); err != nil {
			return EvalResult{}, errors.Join(err, s.Close())
		}

		_, outcome, err := s.Run(ctx, nil, update)
		switch outcome {
		case session.RecoverableFault:
			log.Warn("evaluation aborted by a recoverable fault", "error", err)
			return EvalResult{Status: EvalAborted, Step: NoStep, Checkpoint: path, Cause: err}, nil
		case session.FatalFault:
			return EvalResult{}, err
		}
	}

	var steps int64
	if a, ok := s.Raw().State().Get(ml.EvalStepName); ok {
		steps = a.Int()
	}

	if err := s.Close(); err != nil {
		return EvalResult{}, err
	}

	got, ok := final.Result()
	if !ok {
		return EvalResult{}, fmt.Errorf("%w: metric values were not fetched", ml.ErrFailedPrecondition)
	}

	result := EvalResult{
		Status:     EvalCompleted,
		Step:       step,
		Steps:      steps,
		Checkpoint: path,
		Values:     orderedmap.New[string, float64](),
	}
	for i, v := range got.([]any) {
		f, err := toFloat(v)
		if err != nil {
			return EvalResult{}, fmt.Errorf("metric %s: %w", opts.Metrics[i].Name(), err)
		}
		result.Values.Set(opts.Metrics[i].Name(), f)
	}

	log.Info("evaluation finished", resultAttrs(result)...)

	if opts.SaveSummaries && e.config.IsChief() {
		if err := writeSummaries(e.config.WorkDir, opts.run(), result); err != nil {
			return EvalResult{}, err
		}
	}
	return result, nil
}

func (e *Estimator) checkEvalArgs(data ml.Dataset, opts EvalOptions) error {
	if data == nil {
		return fmt.Errorf("%w: evaluation needs a dataset", ErrInvalidArgument)
	}
	if opts.SaveSummaries && e.config.WorkDir == "" {
		return fmt.Errorf("%w: saving summaries needs a work dir", ErrInvalidArgument)
	}

	seen := make(map[string]bool, len(opts.Metrics))
	for _, m := range opts.Metrics {
		if m == nil {
			return fmt.Errorf("%w: nil metric", ErrInvalidArgument)
		}
		if seen[m.Name()] {
			return fmt.Errorf("%w: duplicate metric %q", ErrInvalidArgument, m.Name())
		}
		seen[m.Name()] = true
	}
	return nil
}

// EvaluateContinuously evaluates the latest checkpoint of the work dir and
// every newer one, until ctx is done or fn returns false.
func (e *Estimator) EvaluateContinuously(ctx context.Context, data ml.Dataset, opts EvalOptions, fn func(EvalResult) bool) error {
	if e.config.WorkDir == "" {
		return fmt.Errorf("%w: continuous evaluation needs a work dir", ErrInvalidArgument)
	}

	for path, err := range checkpoint.Watch(ctx, e.config.WorkDir) {
		if err != nil {
			return err
		}

		opts.CheckpointPath = path
		result, err := e.EvaluateWithHooks(ctx, data, opts)
		if err != nil {
			return err
		}
		if !fn(result) {
			return nil
		}
	}
	return nil
}

func writeSummaries(dir, run string, result EvalResult) error {
	w, err := summary.NewWriter(dir, run)
	if err != nil {
		return err
	}

	for pair := result.Values.Oldest(); pair != nil; pair = pair.Next() {
		if err := w.Add(pair.Key, result.Step, pair.Value); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func resultAttrs(r EvalResult) []any {
	args := []any{"global_step", r.Step, "steps", r.Steps}
	for pair := r.Values.Oldest(); pair != nil; pair = pair.Next() {
		args = append(args, pair.Key, pair.Value)
	}
	return args
}

func toFloat(v any) (float64, error) {
	if f, ok := v.(float64); ok {
		return f, nil
	}
	a, err := ml.AsArray(v)
	if err != nil {
		return 0, err
	}
	return a.Float(), nil
}
