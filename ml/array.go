// array.go - Konkrete Array-Werte fuer Variablen und Fetch-Ergebnisse
//
// Enthaelt:
// - Array: Dichtes Array mit Shape (float32 oder int64)
// - Scalar/ScalarFloat/FromFloats/Zeros: Konstruktoren
// - Int/Float/Clone/NonFinite: Zugriffs- und Hilfsmethoden
package ml

import (
	"fmt"
	"math"
	"slices"
)

// Array is a dense value held by a variable or returned from a run.
// A nil or empty Shape denotes a scalar.
type Array struct {
	DType  DType
	Shape  []int
	Floats []float32
	Ints   []int64
}

// Scalar returns an int64 scalar.
func Scalar(v int64) *Array {
	return &Array{DType: DTypeI64, Ints: []int64{v}}
}

// ScalarFloat returns a float32 scalar.
func ScalarFloat(v float32) *Array {
	return &Array{DType: DTypeF32, Floats: []float32{v}}
}

// FromFloats wraps s without copying. Without a shape the array is one-dimensional.
func FromFloats(s []float32, shape ...int) *Array {
	if len(shape) == 0 {
		shape = []int{len(s)}
	}
	return &Array{DType: DTypeF32, Shape: shape, Floats: s}
}

// Zeros returns a float32 array of the given shape.
func Zeros(shape ...int) *Array {
	a := &Array{DType: DTypeF32, Shape: slices.Clone(shape)}
	a.Floats = make([]float32, a.Len())
	return a
}

// Len returns the number of elements implied by the shape.
func (a *Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Int returns the first element as int64.
func (a *Array) Int() int64 {
	switch {
	case a == nil:
		return 0
	case a.DType == DTypeI64 && len(a.Ints) > 0:
		return a.Ints[0]
	case len(a.Floats) > 0:
		return int64(a.Floats[0])
	default:
		return 0
	}
}

// Float returns the first element as float64.
func (a *Array) Float() float64 {
	switch {
	case a == nil:
		return 0
	case a.DType == DTypeI64 && len(a.Ints) > 0:
		return float64(a.Ints[0])
	case len(a.Floats) > 0:
		return float64(a.Floats[0])
	default:
		return 0
	}
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	if a == nil {
		return nil
	}
	return &Array{
		DType:  a.DType,
		Shape:  slices.Clone(a.Shape),
		Floats: slices.Clone(a.Floats),
		Ints:   slices.Clone(a.Ints),
	}
}

// NonFinite counts NaN and Inf elements.
func (a *Array) NonFinite() int {
	var n int
	for _, f := range a.Floats {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			n++
		}
	}
	return n
}

func (a *Array) String() string {
	if a == nil {
		return "<nil>"
	}
	if len(a.Shape) == 0 {
		if a.DType == DTypeI64 {
			return fmt.Sprintf("%d", a.Int())
		}
		return fmt.Sprintf("%g", a.Float())
	}
	if a.DType == DTypeI64 {
		return fmt.Sprintf("%s%v %v", a.DType, a.Shape, a.Ints)
	}
	return fmt.Sprintf("%s%v %v", a.DType, a.Shape, a.Floats)
}

// AsArray converts a fetched value to *Array.
func AsArray(v any) (*Array, error) {
	switch v := v.(type) {
	case *Array:
		return v, nil
	case float32:
		return ScalarFloat(v), nil
	case float64:
		return ScalarFloat(float32(v)), nil
	case int64:
		return Scalar(v), nil
	case int:
		return Scalar(int64(v)), nil
	case []float32:
		return FromFloats(v), nil
	default:
		return nil, fmt.Errorf("%w: cannot convert %T to array", ErrInvalidArgument, v)
	}
}
