// Package dataset - Datenquellen fuer Training, Inferenz und Evaluation
//
// Dieses Modul enthaelt:
// - Example/Batch: Elementtypen ueberwachter Daten
// - FromSlice: Datenquelle aus einem Slice
// - Batched: Fasst Examples zu Batches zusammen
// - Take: Begrenzt die Anzahl der Elemente
package dataset

import (
	"context"
	"fmt"
	"iter"

	"github.com/ollama/estimator/ml"
)

// Example is one labeled feature vector.
type Example struct {
	Features []float32
	Label    float32
}

// Batch holds n examples: Features has shape [n, d], Labels shape [n].
type Batch struct {
	Features *ml.Array
	Labels   *ml.Array
}

// Size returns the number of examples.
func (b *Batch) Size() int {
	if b == nil || b.Labels == nil {
		return 0
	}
	return len(b.Labels.Floats)
}

// Rows returns the feature vectors of the batch.
func (b *Batch) Rows() [][]float32 {
	n := b.Size()
	if n == 0 {
		return nil
	}
	d := len(b.Features.Floats) / n
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = b.Features.Floats[i*d : (i+1)*d]
	}
	return rows
}

// NewBatch stacks examples. All feature vectors must have equal length.
func NewBatch(examples []Example) (*Batch, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ml.ErrInvalidArgument)
	}

	d := len(examples[0].Features)
	features := make([]float32, 0, len(examples)*d)
	labels := make([]float32, 0, len(examples))
	for i, e := range examples {
		if len(e.Features) != d {
			return nil, fmt.Errorf("%w: example %d has %d features, want %d", ml.ErrInvalidArgument, i, len(e.Features), d)
		}
		features = append(features, e.Features...)
		labels = append(labels, e.Label)
	}

	return &Batch{
		Features: ml.FromFloats(features, len(examples), d),
		Labels:   ml.FromFloats(labels),
	}, nil
}

// FromSlice yields the items in order on every pass.
func FromSlice[T any](items []T) ml.Dataset {
	return ml.DatasetFunc(func(ctx context.Context) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			for _, item := range items {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if !yield(item, nil) {
					return
				}
			}
		}
	})
}

// Batched groups the Examples of ds into batches of size. The last batch
// may be smaller.
func Batched(ds ml.Dataset, size int) ml.Dataset {
	return ml.DatasetFunc(func(ctx context.Context) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			if size <= 0 {
				yield(nil, fmt.Errorf("%w: batch size %d", ml.ErrInvalidArgument, size))
				return
			}

			pending := make([]Example, 0, size)
			emit := func() bool {
				b, err := NewBatch(pending)
				pending = pending[:0]
				return yield(b, err) && err == nil
			}

			for v, err := range ds.Elements(ctx) {
				if err != nil {
					yield(nil, err)
					return
				}

				e, ok := v.(Example)
				if !ok {
					yield(nil, fmt.Errorf("%w: cannot batch %T", ml.ErrInvalidArgument, v))
					return
				}

				pending = append(pending, e)
				if len(pending) == size && !emit() {
					return
				}
			}

			if len(pending) > 0 {
				emit()
			}
		}
	})
}

// Take yields at most n elements of ds per pass.
func Take(ds ml.Dataset, n int) ml.Dataset {
	return ml.DatasetFunc(func(ctx context.Context) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			if n <= 0 {
				return
			}
			var i int
			for v, err := range ds.Elements(ctx) {
				if !yield(v, err) || err != nil {
					return
				}
				if i++; i >= n {
					return
				}
			}
		}
	})
}
