// Package estimator - Inferenz
//
// Dieses Modul enthaelt:
// - Prediction: Eingabe-Element und Modell-Ausgabe
// - Infer: Vorhersage fuer eine einzelne Eingabe
// - InferAll/InferWithHooks: Lazy, einmalig iterierbare Vorhersagen
package estimator

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/ollama/estimator/dataset"
	"github.com/ollama/estimator/hooks"
	"github.com/ollama/estimator/ml"
	"github.com/ollama/estimator/session"
)

// Prediction is the output of one input element.
type Prediction struct {
	Input  any
	Output any
}

// Infer predicts a single input from the latest checkpoint.
func (e *Estimator) Infer(ctx context.Context, input any) (any, error) {
	predictions, err := e.InferWithHooks(ctx, dataset.FromSlice([]any{input}), nil, "")
	if err != nil {
		return nil, err
	}

	for p, err := range predictions {
		if err != nil {
			return nil, err
		}
		return p.Output, nil
	}
	return nil, fmt.Errorf("%w: no prediction for input", ml.ErrOutOfRange)
}

// InferAll predicts every element of data from the latest checkpoint.
func (e *Estimator) InferAll(ctx context.Context, data ml.Dataset) (iter.Seq2[Prediction, error], error) {
	return e.InferWithHooks(ctx, data, nil, "")
}

// InferWithHooks predicts every element of data. The checkpoint is
// resolved before returning; the session opens on the first pull and
// closes when the sequence ends or the consumer stops. The sequence can be
// iterated once.
func (e *Estimator) InferWithHooks(ctx context.Context, data ml.Dataset, hs []hooks.Hook, checkpointPath string) (iter.Seq2[Prediction, error], error) {
	if data == nil {
		return nil, fmt.Errorf("%w: inference needs a dataset", ErrInvalidArgument)
	}

	path, err := e.checkpointPath(checkpointPath)
	if err != nil {
		return nil, err
	}
	hs = orDefault(hs, e.inferHooks)

	var consumed atomic.Bool
	return func(yield func(Prediction, error) bool) {
		if consumed.Swap(true) {
			yield(Prediction{}, ErrConsumed)
			return
		}

		if err := e.infer(ctx, data, hs, path, yield); err != nil {
			yield(Prediction{}, err)
		}
	}, nil
}

func (e *Estimator) infer(ctx context.Context, data ml.Dataset, hs []hooks.Hook, path string, yield func(Prediction, error) bool) error {
	log := logger().With("mode", "infer")

	m, err := e.newModel()
	if err != nil {
		return err
	}

	g := newGraph()
	ops, err := m.BuildInferenceOps(g)
	if err != nil {
		return fmt.Errorf("build inference ops: %w", err)
	}
	if ops.Input == nil || ops.Output == nil {
		return fmt.Errorf("%w: inference ops need an input and an output", ErrInvalidArgument)
	}

	backend, err := e.backend()
	if err != nil {
		return err
	}

	s, err := session.New(ctx, session.Options{
		Graph:          g,
		Backend:        backend,
		Config:         e.config.sessionConfig(),
		Hooks:          hooks.NewChain(hs, nil, e.config.IsChief()),
		CheckpointPath: path,
		Saver:          e.saver(),
		LocalInit:      []*ml.Node{ops.Input.Initializer(data)},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	log.Debug("predicting", "checkpoint", path)

	fetches := append([]*ml.Node{ops.Input.Next()}, ops.Output.Nodes()...)
	for !s.ShouldStop() {
		if err := ctx.Err(); err != nil {
			return err
		}

		values, outcome, err := s.Run(ctx, fetches)
		switch outcome {
		case session.RecoverableFault, session.FatalFault:
			return err
		}

		// data exhaustion stops without values
		if values == nil {
			break
		}

		out, err := ops.Output.Decode(values[1:])
		if err != nil {
			return err
		}
		if !yield(Prediction{Input: values[0], Output: out}, nil) {
			return nil
		}
	}

	return s.Close()
}
