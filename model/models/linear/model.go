// Modul: model.go
// Beschreibung: Lineare Regression mit SGD als Referenzmodell.
// Hauptstrukturen:
//   - Model: Gewichte und Bias als persistierte Variablen
//   - forward: Vorhersagen fuer einen Batch (gonum mat)
//   - BuildTrainingOps/BuildInferenceOps/BuildEvaluationOps: Operationen der drei Modi

package linear

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ollama/estimator/dataset"
	"github.com/ollama/estimator/metrics"
	"github.com/ollama/estimator/ml"
	"github.com/ollama/estimator/model"
)

// Options enthaelt die konfigurierbaren Parameter des Modells
type Options struct {
	features     int
	learningRate float64
	l2           float64
	initStddev   float64
	seed         int64
}

// Model is a linear regression y = Xw + b trained with plain SGD on the
// mean squared error.
type Model struct {
	Options
}

func New(c model.Config) (model.Model, error) {
	return &Model{
		Options: Options{
			features:     c.Int("features", 1),
			learningRate: c.Float("learning_rate", 0.01),
			l2:           c.Float("l2", 0),
			initStddev:   c.Float("init_stddev", 0),
			seed:         c.RandomSeed,
		},
	}, nil
}

func (m *Model) Validate() error {
	if m.features <= 0 {
		return fmt.Errorf("%w: features must be positive, got %d", ml.ErrInvalidArgument, m.features)
	}
	if m.learningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be positive, got %v", ml.ErrInvalidArgument, m.learningRate)
	}
	return nil
}

type params struct {
	weights *ml.Variable
	bias    *ml.Variable
}

func (m *Model) variables(g *ml.Graph) params {
	w := ml.Zeros(m.features)
	if m.initStddev > 0 {
		r := rand.New(rand.NewPCG(uint64(m.seed), uint64(m.seed)))
		for i := range w.Floats {
			w.Floats[i] = float32(r.NormFloat64() * m.initStddev)
		}
	}

	return params{
		weights: g.NewVariable("linear/weights", w),
		bias:    g.NewVariable("linear/bias", ml.ScalarFloat(0)),
	}
}

// batch converts an input element. Single vectors and examples become a
// batch of one.
func batch(v any) (*dataset.Batch, bool, error) {
	switch v := v.(type) {
	case *dataset.Batch:
		return v, false, nil
	case dataset.Example:
		b, err := dataset.NewBatch([]dataset.Example{v})
		return b, true, err
	case []float32:
		b, err := dataset.NewBatch([]dataset.Example{{Features: v}})
		return b, true, err
	default:
		return nil, false, fmt.Errorf("%w: linear model cannot consume %T", ml.ErrInvalidArgument, v)
	}
}

type prediction struct {
	batch  *dataset.Batch
	single bool
	x      *mat.Dense
	y      *mat.VecDense
}

// forward computes Xw + b for the current element of input.
func (m *Model) forward(g *ml.Graph, p params, input *ml.Iterator) *ml.Node {
	return g.NewNode("linear/forward", func(f *ml.Frame) (any, error) {
		v, err := f.Eval(input.Next())
		if err != nil {
			return nil, err
		}

		b, single, err := batch(v)
		if err != nil {
			return nil, err
		}

		rows := b.Size()
		if d := len(b.Features.Floats) / max(rows, 1); d != m.features {
			return nil, fmt.Errorf("%w: got %d features, model has %d", ml.ErrInvalidArgument, d, m.features)
		}

		w, err := f.Array(p.weights.Value())
		if err != nil {
			return nil, err
		}
		bias, err := f.Array(p.bias.Value())
		if err != nil {
			return nil, err
		}

		x := mat.NewDense(rows, m.features, toFloat64(b.Features.Floats))
		y := mat.NewVecDense(rows, nil)
		y.MulVec(x, mat.NewVecDense(m.features, toFloat64(w.Floats)))
		for i := range rows {
			y.SetVec(i, y.AtVec(i)+bias.Float())
		}

		return &prediction{batch: b, single: single, x: x, y: y}, nil
	})
}

func predictionOf(f *ml.Frame, n *ml.Node) (*prediction, error) {
	v, err := f.Eval(n)
	if err != nil {
		return nil, err
	}
	return v.(*prediction), nil
}

func (m *Model) predictions(g *ml.Graph, forward *ml.Node) *ml.Node {
	return g.NewNode("linear/predictions", func(f *ml.Frame) (any, error) {
		p, err := predictionOf(f, forward)
		if err != nil {
			return nil, err
		}
		out := toFloat32(p.y.RawVector().Data)
		if p.single {
			return ml.ScalarFloat(out[0]), nil
		}
		return ml.FromFloats(out), nil
	})
}

func labels(g *ml.Graph, forward *ml.Node) *ml.Node {
	return g.NewNode("linear/labels", func(f *ml.Frame) (any, error) {
		p, err := predictionOf(f, forward)
		if err != nil {
			return nil, err
		}
		return p.batch.Labels, nil
	})
}

type gradients struct {
	weights []float64
	bias    float64
	loss    float64
}

func (m *Model) BuildTrainingOps(g *ml.Graph) (model.TrainOps, error) {
	p := m.variables(g)
	input := g.NewIterator("linear/input")
	forward := m.forward(g, p, input)

	grads := g.NewNode("linear/gradients", func(f *ml.Frame) (any, error) {
		pred, err := predictionOf(f, forward)
		if err != nil {
			return nil, err
		}

		n := float64(pred.batch.Size())
		if n == 0 {
			return nil, errors.New("linear: empty batch")
		}

		residual := floats.SubTo(make([]float64, int(n)), pred.y.RawVector().Data, toFloat64(pred.batch.Labels.Floats))

		gw := mat.NewVecDense(m.features, nil)
		gw.MulVec(pred.x.T(), mat.NewVecDense(len(residual), residual))
		gw.ScaleVec(2/n, gw)

		w, err := f.Array(p.weights.Value())
		if err != nil {
			return nil, err
		}
		weights := toFloat64(w.Floats)
		if m.l2 > 0 {
			gw.AddScaledVec(gw, 2*m.l2, mat.NewVecDense(m.features, weights))
		}

		loss := floats.Dot(residual, residual) / n
		if m.l2 > 0 {
			loss += m.l2 * floats.Dot(weights, weights)
		}

		return &gradients{
			weights: gw.RawVector().Data,
			bias:    2 * floats.Sum(residual) / n,
			loss:    loss,
		}, nil
	})

	loss := g.NewNode("linear/loss", func(f *ml.Frame) (any, error) {
		v, err := f.Eval(grads)
		if err != nil {
			return nil, err
		}
		return ml.ScalarFloat(float32(v.(*gradients).loss)), nil
	})

	updateWeights := p.weights.Update("sgd", func(f *ml.Frame, cur *ml.Array) (*ml.Array, error) {
		v, err := f.Eval(grads)
		if err != nil {
			return nil, err
		}
		for i, gi := range v.(*gradients).weights {
			cur.Floats[i] -= float32(m.learningRate * gi)
		}
		return cur, nil
	})

	updateBias := p.bias.Update("sgd", func(f *ml.Frame, cur *ml.Array) (*ml.Array, error) {
		v, err := f.Eval(grads)
		if err != nil {
			return nil, err
		}
		cur.Floats[0] -= float32(m.learningRate * v.(*gradients).bias)
		return cur, nil
	})

	return model.TrainOps{
		Input:   input,
		Loss:    loss,
		TrainOp: g.Group("linear/train", grads, updateWeights, updateBias),
		Summaries: map[string]*ml.Node{
			"loss": loss,
		},
	}, nil
}

func (m *Model) BuildInferenceOps(g *ml.Graph) (model.InferOps, error) {
	p := m.variables(g)
	input := g.NewIterator("linear/input")
	return model.InferOps{
		Input:  input,
		Output: m.predictions(g, m.forward(g, p, input)),
	}, nil
}

func (m *Model) BuildEvaluationOps(g *ml.Graph, ms []metrics.Metric) (model.EvalOps, error) {
	p := m.variables(g)
	input := g.NewIterator("linear/input")
	forward := m.forward(g, p, input)
	preds, labels := m.predictions(g, forward), labels(g, forward)

	ops := model.EvalOps{Input: input}
	for _, metric := range ms {
		o, err := metric.Build(g, preds, labels)
		if err != nil {
			return model.EvalOps{}, err
		}
		ops.Metrics = append(ops.Metrics, o)
	}
	return ops, nil
}

func toFloat64(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(s []float64) []float32 {
	out := make([]float32, len(s))
	for i, v := range s {
		out[i] = float32(v)
	}
	return out
}

func init() {
	model.Register("linear", New)
}
