package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/ollama/estimator/ml"
)

type batch struct {
	predictions []float32
	labels      []float32
}

func evaluate(t *testing.T, m Metric, batches []batch) float64 {
	t.Helper()

	g := ml.NewGraph()
	var current batch
	p := g.NewNode("predictions", func(*ml.Frame) (any, error) {
		return ml.FromFloats(current.predictions), nil
	})
	l := g.NewNode("labels", func(*ml.Frame) (any, error) {
		return ml.FromFloats(current.labels), nil
	})

	ops, err := m.Build(g, p, l)
	if err != nil {
		t.Fatal(err)
	}

	state := ml.NewState()
	if _, err := ml.NewFrame(t.Context(), state, false).Eval(g.LocalInitializer()); err != nil {
		t.Fatal(err)
	}

	for _, b := range batches {
		current = b
		if _, err := ml.NewFrame(t.Context(), state, false).Eval(ops.Update); err != nil {
			t.Fatal(err)
		}
	}

	v, err := ml.NewFrame(t.Context(), state, false).Eval(ops.Value)
	if err != nil {
		t.Fatal(err)
	}
	return v.(float64)
}

func TestMetrics(t *testing.T) {
	batches := []batch{
		{predictions: []float32{1, 2}, labels: []float32{1, 4}},
		{predictions: []float32{3}, labels: []float32{0}},
	}

	cases := []struct {
		metric Metric
		want   float64
	}{
		{Mean("loss"), 2},
		{MSE(), 13.0 / 3},
		{RMSE(), math.Sqrt(13.0 / 3)},
		{MAE(), 5.0 / 3},
		{Accuracy(), 1.0 / 3},
	}

	for _, tt := range cases {
		t.Run(tt.metric.Name(), func(t *testing.T) {
			got := evaluate(t, tt.metric, batches)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("%s: erwartet %v, bekommen %v", tt.metric.Name(), tt.want, got)
			}
		})
	}
}

func TestMetricWithoutBatches(t *testing.T) {
	if got := evaluate(t, MSE(), nil); got != 0 {
		t.Errorf("erwartet 0 ohne Batches, bekommen %v", got)
	}
}

func TestMetricLengthMismatch(t *testing.T) {
	g := ml.NewGraph()
	p := g.Constant("p", ml.FromFloats([]float32{1, 2}))
	l := g.Constant("l", ml.FromFloats([]float32{1}))
	ops, err := MSE().Build(g, p, l)
	if err != nil {
		t.Fatal(err)
	}

	state := ml.NewState()
	ml.NewFrame(t.Context(), state, false).Eval(g.LocalInitializer())
	_, err = ml.NewFrame(t.Context(), state, false).Eval(ops.Update)
	if !errors.Is(err, ml.ErrInvalidArgument) {
		t.Errorf("erwartet ErrInvalidArgument, bekommen %v", err)
	}
}

func TestNamed(t *testing.T) {
	m := Named("train_mse", MSE())
	if m.Name() != "train_mse" {
		t.Errorf("Name: erwartet train_mse, bekommen %s", m.Name())
	}

	g := ml.NewGraph()
	p := g.Constant("p", 1.0)
	if _, err := m.Build(g, p, p); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Variable("metrics/train_mse/accumulator"); !ok {
		t.Error("Akkumulator nicht unter neuem Namen angelegt")
	}
}
