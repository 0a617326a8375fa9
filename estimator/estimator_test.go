package estimator

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/dataset"
	"github.com/ollama/estimator/hooks"
	"github.com/ollama/estimator/metrics"
	"github.com/ollama/estimator/ml"
	"github.com/ollama/estimator/model"
	"github.com/ollama/estimator/summary"
)

// stub counts how often it is built and how many elements its ops consume.
type stub struct {
	built atomic.Int64
	runs  atomic.Int64

	fail error
	nan  bool

	// readStep makes the train op read the global step before it consumes.
	readStep bool
}

func (m *stub) fn() model.Func {
	return func(model.Config) (model.Model, error) {
		m.built.Add(1)
		return m, nil
	}
}

func (m *stub) consume(f *ml.Frame, next *ml.Node) (any, error) {
	v, err := f.Eval(next)
	if err != nil {
		return nil, err
	}
	m.runs.Add(1)
	if m.fail != nil {
		return nil, m.fail
	}
	return v, nil
}

func (m *stub) BuildTrainingOps(g *ml.Graph) (model.TrainOps, error) {
	w := g.NewVariable("stub/w", ml.ScalarFloat(0))
	input := g.NewIterator("stub/input")

	loss := g.NewNode("stub/loss", func(*ml.Frame) (any, error) {
		if m.nan {
			return ml.ScalarFloat(float32(math.NaN())), nil
		}
		return ml.ScalarFloat(0.5), nil
	})

	train := w.Update("step", func(f *ml.Frame, cur *ml.Array) (*ml.Array, error) {
		if m.readStep {
			if _, err := f.Eval(g.GlobalStep.Value()); err != nil {
				return nil, err
			}
		}
		if _, err := m.consume(f, input.Next()); err != nil {
			return nil, err
		}
		cur.Floats[0]++
		return cur, nil
	})

	return model.TrainOps{Input: input, Loss: loss, TrainOp: train}, nil
}

func (m *stub) BuildInferenceOps(g *ml.Graph) (model.InferOps, error) {
	g.NewVariable("stub/w", ml.ScalarFloat(0))
	input := g.NewIterator("stub/input")

	out := g.NewNode("stub/output", func(f *ml.Frame) (any, error) {
		v, err := m.consume(f, input.Next())
		if err != nil {
			return nil, err
		}
		return v.(int) * 2, nil
	})
	return model.InferOps{Input: input, Output: out}, nil
}

func (m *stub) BuildEvaluationOps(g *ml.Graph, ms []metrics.Metric) (model.EvalOps, error) {
	g.NewVariable("stub/w", ml.ScalarFloat(0))
	input := g.NewIterator("stub/input")

	preds := g.NewNode("stub/predictions", func(f *ml.Frame) (any, error) {
		v, err := m.consume(f, input.Next())
		if err != nil {
			return nil, err
		}
		return ml.AsArray(v)
	})

	ops := model.EvalOps{Input: input}
	for _, metric := range ms {
		o, err := metric.Build(g, preds, preds)
		if err != nil {
			return model.EvalOps{}, err
		}
		ops.Metrics = append(ops.Metrics, o)
	}
	return ops, nil
}

func ints(n int) ml.Dataset {
	s := make([]int, n)
	for i := range s {
		s[i] = i + 1
	}
	return dataset.FromSlice(s)
}

func testConfig(dir string) Configuration {
	return Configuration{
		WorkDir:      dir,
		SummarySteps: 10,
		LogSteps:     10,
		Checkpoint: CheckpointConfig{
			SaveSteps: 25,
			SaveSecs:  time.Hour,
			MaxToKeep: 3,
		},
	}
}

func newEstimator(t *testing.T, c Configuration, m *stub, opts ...Option) *Estimator {
	t.Helper()
	e, err := New(c, m.fn(), opts...)
	require.NoError(t, err)
	return e
}

func latestStep(t *testing.T, dir string) int64 {
	t.Helper()
	path, ok := checkpoint.Latest(dir)
	require.True(t, ok, "kein Checkpoint in %s", dir)
	step, ok, err := checkpoint.ReadScalar(path, ml.GlobalStepName)
	require.NoError(t, err)
	require.True(t, ok)
	return step.Int()
}

func TestTrainWritesFinalCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m := &stub{}
	e := newEstimator(t, testConfig(dir), m)

	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 100, MaxEpochs: -1}))
	if got := latestStep(t, dir); got != 100 {
		t.Fatalf("global step: erwartet 100, bekommen %d", got)
	}
	if got := m.runs.Load(); got != 100 {
		t.Fatalf("schritte: erwartet 100, bekommen %d", got)
	}

	path, _ := checkpoint.Latest(dir)
	epochs, ok, err := checkpoint.ReadScalar(path, ml.GlobalEpochName)
	require.NoError(t, err)
	require.True(t, ok)
	if epochs.Int() != 9 {
		t.Errorf("epochen: erwartet 9, bekommen %d", epochs.Int())
	}

	// retention keeps the newest three of 0, 25, 50, 75, 100
	want := []string{
		checkpoint.Path(dir, "", 50),
		checkpoint.Path(dir, "", 75),
		checkpoint.Path(dir, "", 100),
	}
	if diff := cmp.Diff(want, checkpoint.List(dir)); diff != "" {
		t.Errorf("checkpoints (-want +got):\n%s", diff)
	}
}

func TestTrainSkipsWhenMaxStepsReached(t *testing.T) {
	dir := t.TempDir()
	m := &stub{}
	e := newEstimator(t, testConfig(dir), m)
	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 20, MaxEpochs: -1}))

	built, runs := m.built.Load(), m.runs.Load()
	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 20, MaxEpochs: -1}))
	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 15, MaxEpochs: -1}))

	if m.built.Load() != built || m.runs.Load() != runs {
		t.Fatalf("erneutes Training hat das Modell gebaut oder Schritte ausgefuehrt")
	}
	require.Equal(t, int64(20), latestStep(t, dir))
}

func TestTrainRestartCounting(t *testing.T) {
	dir := t.TempDir()
	m := &stub{}
	e := newEstimator(t, testConfig(dir), m)

	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 20, MaxEpochs: -1}))
	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 5, RestartCounting: true, MaxEpochs: -1}))
	require.Equal(t, int64(25), latestStep(t, dir))
}

func TestTrainStopsWhenDataExhausted(t *testing.T) {
	cases := []struct {
		name     string
		criteria StopCriteria
		want     int64
	}{
		{"zero value makes one pass", StopCriteria{}, 4},
		{"one pass", StopCriteria{MaxSteps: 100, MaxEpochs: 1}, 4},
		{"two passes", StopCriteria{MaxSteps: 100, MaxEpochs: 2}, 8},
		{"repeat until max steps", StopCriteria{MaxSteps: 10, MaxEpochs: -1}, 10},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			m := &stub{}
			e := newEstimator(t, testConfig(dir), m)

			require.NoError(t, e.Train(t.Context(), ints(4), tt.criteria))
			if got := latestStep(t, dir); got != tt.want {
				t.Fatalf("global step: erwartet %d, bekommen %d", tt.want, got)
			}
			if got := m.runs.Load(); got != tt.want {
				t.Fatalf("schritte: erwartet %d, bekommen %d", tt.want, got)
			}
		})
	}
}

func TestTrainOpReadsGlobalStep(t *testing.T) {
	dir := t.TempDir()
	m := &stub{readStep: true}
	e := newEstimator(t, testConfig(dir), m)

	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 100, MaxEpochs: -1}))
	if got := m.runs.Load(); got != 100 {
		t.Fatalf("schritte: erwartet 100, bekommen %d", got)
	}
	if got := latestStep(t, dir); got != 100 {
		t.Fatalf("global step: erwartet 100, bekommen %d", got)
	}

	want := []string{
		checkpoint.Path(dir, "", 50),
		checkpoint.Path(dir, "", 75),
		checkpoint.Path(dir, "", 100),
	}
	if diff := cmp.Diff(want, checkpoint.List(dir)); diff != "" {
		t.Errorf("checkpoints (-want +got):\n%s", diff)
	}
}

func TestCorruptLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m := &stub{}
	e := newEstimator(t, testConfig(dir), m)
	require.NoError(t, os.WriteFile(checkpoint.Path(dir, "", 5), []byte("GGUF\x03"), 0o644))

	err := e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 10})
	require.ErrorIs(t, err, checkpoint.ErrCorrupt)

	err = e.Train(t.Context(), ints(10), StopCriteria{MaxEpochs: 1})
	require.ErrorIs(t, err, checkpoint.ErrCorrupt)

	_, err = e.Evaluate(t.Context(), ints(5), []metrics.Metric{metrics.Mean("mean")}, -1)
	require.ErrorIs(t, err, checkpoint.ErrCorrupt)

	_, err = e.Infer(t.Context(), 1)
	require.ErrorIs(t, err, checkpoint.ErrCorrupt)

	if m.runs.Load() != 0 {
		t.Fatalf("schritte: erwartet 0, bekommen %d", m.runs.Load())
	}
}

func TestTrainFaults(t *testing.T) {
	cases := []struct {
		name    string
		stub    *stub
		wantErr error
	}{
		{"recoverable", &stub{fail: ml.ErrUnavailable}, nil},
		{"fatal", &stub{fail: errors.New("boom")}, errors.New("boom")},
		{"nan", &stub{nan: true}, hooks.ErrNaNLoss},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			e := newEstimator(t, testConfig(t.TempDir()), tt.stub)
			err := e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 10})
			switch {
			case tt.wantErr == nil:
				require.NoError(t, err)
			case errors.Is(tt.wantErr, hooks.ErrNaNLoss):
				require.ErrorIs(t, err, hooks.ErrNaNLoss)
			default:
				require.ErrorContains(t, err, tt.wantErr.Error())
			}
		})
	}
}

func TestTrainWritesSummaries(t *testing.T) {
	dir := t.TempDir()
	e := newEstimator(t, testConfig(dir), &stub{})
	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 30, MaxEpochs: -1}))

	r, err := summary.Open(dir)
	require.NoError(t, err)
	defer r.Close()

	loss, err := r.Scalars(t.Context(), TrainRun, "loss")
	require.NoError(t, err)
	steps := make([]int64, len(loss))
	for i, s := range loss {
		steps[i] = s.Step
	}
	require.Equal(t, []int64{1, 11, 21}, steps)
}

func TestTrainWorkerSkipsChiefSideEffects(t *testing.T) {
	dir := t.TempDir()
	c := testConfig(dir)
	c.Role = Worker
	e := newEstimator(t, c, &stub{})

	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 10}))
	if _, ok := checkpoint.Latest(dir); ok {
		t.Fatal("worker hat einen Checkpoint geschrieben")
	}
	if _, err := os.Stat(filepath.Join(dir, summary.FileName)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("worker hat Summaries geschrieben: %v", err)
	}
}

func TestMissingCheckpoint(t *testing.T) {
	m := &stub{}
	e := newEstimator(t, testConfig(t.TempDir()), m)

	_, err := e.InferAll(t.Context(), ints(5))
	require.ErrorIs(t, err, ErrCheckpointNotFound)

	_, err = e.Infer(t.Context(), 1)
	require.ErrorIs(t, err, ErrCheckpointNotFound)

	_, err = e.Evaluate(t.Context(), ints(5), []metrics.Metric{metrics.Mean("mean")}, -1)
	require.ErrorIs(t, err, ErrCheckpointNotFound)

	_, err = e.EvaluateWithHooks(t.Context(), ints(5), EvalOptions{CheckpointPath: filepath.Join(t.TempDir(), "missing.gguf")})
	require.ErrorIs(t, err, ErrCheckpointNotFound)

	if m.built.Load() != 0 || m.runs.Load() != 0 {
		t.Fatalf("ohne Checkpoint wurde das Modell gebaut oder ausgefuehrt")
	}
}

// trained returns an estimator whose work dir holds a checkpoint at step 10.
func trained(t *testing.T, m *stub) (*Estimator, string) {
	t.Helper()
	dir := t.TempDir()
	e := newEstimator(t, testConfig(dir), m)
	require.NoError(t, e.Train(t.Context(), ints(10), StopCriteria{MaxSteps: 10}))
	m.built.Store(0)
	m.runs.Store(0)
	return e, dir
}

func TestInferSingle(t *testing.T) {
	e, _ := trained(t, &stub{})

	got, err := e.Infer(t.Context(), 21)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestInferAllIsLazy(t *testing.T) {
	m := &stub{}
	e, _ := trained(t, m)

	predictions, err := e.InferAll(t.Context(), ints(5))
	require.NoError(t, err)
	if m.runs.Load() != 0 {
		t.Fatal("InferAll hat vor dem ersten Abruf gerechnet")
	}

	var outputs []any
	for p, err := range predictions {
		require.NoError(t, err)
		outputs = append(outputs, p.Output)
		if len(outputs) == 2 {
			if got := m.runs.Load(); got != 2 {
				t.Fatalf("nach 2 Ausgaben: erwartet 2 Elemente, bekommen %d", got)
			}
		}
	}
	require.Equal(t, []any{2, 4, 6, 8, 10}, outputs)

	for _, err := range predictions {
		require.ErrorIs(t, err, ErrConsumed)
	}
}

func TestInferStopsEarly(t *testing.T) {
	m := &stub{}
	e, _ := trained(t, m)

	predictions, err := e.InferAll(t.Context(), ints(5))
	require.NoError(t, err)
	for range predictions {
		break
	}
	if got := m.runs.Load(); got != 1 {
		t.Fatalf("erwartet 1 Element, bekommen %d", got)
	}
}

func TestEvaluateMaxSteps(t *testing.T) {
	cases := []struct {
		name      string
		size      int
		maxSteps  int64
		wantSteps int64
		wantMean  float64
	}{
		{"bounded", 10, 3, 3, 2},
		{"exhausted", 10, 20, 10, 5.5},
		{"until exhausted", 4, -1, 4, 2.5},
		{"empty", 0, -1, 0, 0},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			m := &stub{}
			e, _ := trained(t, m)

			result, err := e.Evaluate(t.Context(), ints(tt.size), []metrics.Metric{metrics.Mean("mean"), metrics.MAE()}, tt.maxSteps)
			require.NoError(t, err)
			require.Equal(t, EvalCompleted, result.Status)
			require.Equal(t, int64(10), result.Step)
			if result.Steps != tt.wantSteps || m.runs.Load() != tt.wantSteps {
				t.Fatalf("schritte: erwartet %d, bekommen %d (%d ausgefuehrt)", tt.wantSteps, result.Steps, m.runs.Load())
			}

			mean, _ := result.Values.Get("mean")
			if math.Abs(mean-tt.wantMean) > 1e-6 {
				t.Errorf("mean: erwartet %v, bekommen %v", tt.wantMean, mean)
			}

			var keys []string
			for pair := result.Values.Oldest(); pair != nil; pair = pair.Next() {
				keys = append(keys, pair.Key)
			}
			require.Equal(t, []string{"mean", "mae"}, keys)
		})
	}
}

func TestEvaluateRecoverableFault(t *testing.T) {
	m := &stub{}
	e, _ := trained(t, m)
	m.fail = ml.ErrAborted

	result, err := e.Evaluate(t.Context(), ints(5), []metrics.Metric{metrics.Mean("mean")}, -1)
	require.NoError(t, err)
	require.Equal(t, EvalAborted, result.Status)
	require.Equal(t, NoStep, result.Step)
	require.Nil(t, result.Values)
	require.ErrorIs(t, result.Cause, ml.ErrAborted)
}

func TestEvaluateSummaries(t *testing.T) {
	t.Run("without work dir", func(t *testing.T) {
		m := &stub{}
		_, dir := trained(t, m)
		path, _ := checkpoint.Latest(dir)

		e := newEstimator(t, Configuration{}, m)
		_, err := e.EvaluateWithHooks(t.Context(), ints(5), EvalOptions{
			Metrics:        []metrics.Metric{metrics.Mean("mean")},
			CheckpointPath: path,
			SaveSummaries:  true,
		})
		require.ErrorIs(t, err, ErrInvalidArgument)
		if m.built.Load() != 0 || m.runs.Load() != 0 {
			t.Fatal("Session trotz ungueltiger Argumente geoeffnet")
		}
	})

	t.Run("named run", func(t *testing.T) {
		e, dir := trained(t, &stub{})
		_, err := e.EvaluateWithHooks(t.Context(), ints(4), EvalOptions{
			Metrics:       []metrics.Metric{metrics.Mean("mean")},
			SaveSummaries: true,
			Name:          "holdout",
		})
		require.NoError(t, err)

		r, err := summary.Open(dir)
		require.NoError(t, err)
		defer r.Close()

		scalars, err := r.Scalars(t.Context(), "eval_holdout", "mean")
		require.NoError(t, err)
		require.Len(t, scalars, 1)
		require.Equal(t, int64(10), scalars[0].Step)
		require.InDelta(t, 2.5, scalars[0].Value, 1e-6)
	})
}

func TestEvaluateDuplicateMetric(t *testing.T) {
	e, _ := trained(t, &stub{})
	_, err := e.Evaluate(t.Context(), ints(4), []metrics.Metric{metrics.MSE(), metrics.MSE()}, -1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEvaluateContinuously(t *testing.T) {
	e, _ := trained(t, &stub{})

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	var results []EvalResult
	err := e.EvaluateContinuously(ctx, ints(4), EvalOptions{Metrics: []metrics.Metric{metrics.Mean("mean")}}, func(r EvalResult) bool {
		results = append(results, r)
		return false
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int64(10), results[0].Step)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	_, err := New(Configuration{Role: "leader"}, (&stub{}).fn())
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(Configuration{}, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

// cancelHook cancels the evaluation after the first step and fails on End.
type cancelHook struct {
	hooks.Base
	cancel context.CancelFunc
	end    error
}

func (h *cancelHook) AfterRun(*hooks.RunContext, hooks.RunValues) error {
	h.cancel()
	return nil
}

func (h *cancelHook) End(context.Context, ml.Session) error {
	return h.end
}

func TestEvaluateCanceledReportsCloseError(t *testing.T) {
	m := &stub{}
	e, _ := trained(t, m)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	h := &cancelHook{cancel: cancel, end: errors.New("end failed")}

	_, err := e.EvaluateWithHooks(ctx, ints(5), EvalOptions{
		Metrics: []metrics.Metric{metrics.Mean("mean")},
		Hooks:   []hooks.Hook{h},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, h.end)
	if got := m.runs.Load(); got != 1 {
		t.Fatalf("schritte: erwartet 1, bekommen %d", got)
	}
}
