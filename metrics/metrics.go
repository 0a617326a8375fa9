// Package metrics - Streaming-Metriken fuer die Evaluation
//
// Dieses Modul enthaelt:
// - Metric: Baut Update- und Value-Operationen in einen Graph
// - Ops: Akkumulator-Update pro Batch, Endwert nach der Schleife
// - Mean/MSE/RMSE/MAE/Accuracy: Eingebaute Metriken
//
// Akkumulatoren sind lokale Variablen: sie werden pro Session neu
// initialisiert und nie in Checkpoints gespeichert.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ollama/estimator/ml"
)

// Ops are the graph operations of one metric.
type Ops struct {
	// Update folds one batch into the accumulator.
	Update *ml.Node

	// Value reads the metric from the accumulator.
	Value *ml.Node
}

// Metric is a streaming accumulator over batches of predictions and labels.
type Metric interface {
	Name() string
	Build(g *ml.Graph, predictions, labels *ml.Node) (Ops, error)
}

// batchFunc reduces one batch to a partial sum and an element count.
type batchFunc func(predictions, labels []float64) (sum, count float64, err error)

// finalFunc maps the accumulated sum and count to the metric value.
type finalFunc func(sum, count float64) float64

type reducer struct {
	name   string
	labels bool
	batch  batchFunc
	final  finalFunc
}

func (r *reducer) Name() string {
	return r.name
}

func (r *reducer) Build(g *ml.Graph, predictions, labels *ml.Node) (Ops, error) {
	if predictions == nil {
		return Ops{}, fmt.Errorf("%w: metric %s needs predictions", ml.ErrInvalidArgument, r.name)
	}
	if r.labels && labels == nil {
		return Ops{}, fmt.Errorf("%w: metric %s needs labels", ml.ErrInvalidArgument, r.name)
	}

	acc := g.NewVariable("metrics/"+r.name+"/accumulator", ml.Zeros(2), ml.Local())

	update := acc.Update("update", func(f *ml.Frame, cur *ml.Array) (*ml.Array, error) {
		p, err := values(f, predictions)
		if err != nil {
			return nil, err
		}

		var l []float64
		if r.labels {
			if l, err = values(f, labels); err != nil {
				return nil, err
			}
			if len(l) != len(p) {
				return nil, fmt.Errorf("%w: metric %s: %d predictions, %d labels", ml.ErrInvalidArgument, r.name, len(p), len(l))
			}
		}

		sum, count, err := r.batch(p, l)
		if err != nil {
			return nil, err
		}
		cur.Floats[0] += float32(sum)
		cur.Floats[1] += float32(count)
		return cur, nil
	})

	value := g.NewNode("metrics/"+r.name+"/value", func(f *ml.Frame) (any, error) {
		a, err := f.Array(acc.Value())
		if err != nil {
			return nil, err
		}
		return r.final(float64(a.Floats[0]), float64(a.Floats[1])), nil
	})

	return Ops{Update: update, Value: value}, nil
}

func values(f *ml.Frame, n *ml.Node) ([]float64, error) {
	a, err := f.Array(n)
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, len(a.Floats)+len(a.Ints))
	for _, v := range a.Floats {
		out = append(out, float64(v))
	}
	for _, v := range a.Ints {
		out = append(out, float64(v))
	}
	return out, nil
}

func mean(sum, count float64) float64 {
	if count == 0 {
		return 0
	}
	return sum / count
}

// Mean averages the prediction values, e.g. a per-batch loss. Labels are
// ignored.
func Mean(name string) Metric {
	return &reducer{
		name: name,
		batch: func(p, _ []float64) (float64, float64, error) {
			if len(p) == 0 {
				return 0, 0, nil
			}
			return stat.Mean(p, nil) * float64(len(p)), float64(len(p)), nil
		},
		final: mean,
	}
}

// MSE is the mean squared error.
func MSE() Metric {
	return &reducer{
		name:   "mse",
		labels: true,
		batch: func(p, l []float64) (float64, float64, error) {
			diff := floats.SubTo(make([]float64, len(p)), p, l)
			return floats.Dot(diff, diff), float64(len(p)), nil
		},
		final: mean,
	}
}

// RMSE is the root mean squared error.
func RMSE() Metric {
	return &reducer{
		name:   "rmse",
		labels: true,
		batch: func(p, l []float64) (float64, float64, error) {
			diff := floats.SubTo(make([]float64, len(p)), p, l)
			return floats.Dot(diff, diff), float64(len(p)), nil
		},
		final: func(sum, count float64) float64 {
			return math.Sqrt(mean(sum, count))
		},
	}
}

// MAE is the mean absolute error.
func MAE() Metric {
	return &reducer{
		name:   "mae",
		labels: true,
		batch: func(p, l []float64) (float64, float64, error) {
			diff := floats.SubTo(make([]float64, len(p)), p, l)
			return floats.Norm(diff, 1), float64(len(p)), nil
		},
		final: mean,
	}
}

// Accuracy is the fraction of predictions equal to their label after
// rounding to the nearest integer.
func Accuracy() Metric {
	return &reducer{
		name:   "accuracy",
		labels: true,
		batch: func(p, l []float64) (float64, float64, error) {
			var hits float64
			for i := range p {
				if math.Round(p[i]) == math.Round(l[i]) {
					hits++
				}
			}
			return hits, float64(len(p)), nil
		},
		final: mean,
	}
}

// Named renames m, e.g. to evaluate the same metric twice.
func Named(name string, m Metric) Metric {
	return named{name: name, Metric: m}
}

type named struct {
	name string
	Metric
}

func (n named) Name() string {
	return n.name
}

func (n named) Build(g *ml.Graph, predictions, labels *ml.Node) (Ops, error) {
	if r, ok := n.Metric.(*reducer); ok {
		c := *r
		c.name = n.name
		return c.Build(g, predictions, labels)
	}
	return n.Metric.Build(g, predictions, labels)
}
