// Package checkpoint - Checkpoint-Dateiformat
//
// Dieses Modul enthaelt die Konstanten des Checkpoint-Containers:
// - Checkpoints sind GGUF-Dateien (Version 3) mit einem Tensor pro Variable
// - typeX: Typ-Kennungen der Key-Value Metadaten
// - tensorKind: Speicherformat eines Tensors (F32, F16, BF16, I64)
// - encode/decode: Konvertierung zwischen ml.Array und Rohdaten
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/ollama/estimator/ml"
)

// Type-Konstanten fuer GGUF-Datentypen
const (
	typeUint8 uint32 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

const (
	magic     = "GGUF"
	version   = 3
	alignment = 32

	keyArchitecture = "general.architecture"
	keyAlignment    = "general.alignment"
	keyGlobalStep   = "estimator.global_step"

	architecture = "estimator"
)

// ErrUnsupported wird bei nicht unterstuetzten Formaten oder Versionen zurueckgegeben
var ErrUnsupported = errors.New("unsupported")

// ErrCorrupt wird bei abgeschnittenen oder inkonsistenten Dateien zurueckgegeben
var ErrCorrupt = errors.New("corrupt checkpoint")

// tensorKind uses the ggml tensor type ids.
type tensorKind uint32

const (
	kindF32  tensorKind = 0
	kindF16  tensorKind = 1
	kindI64  tensorKind = 27
	kindBF16 tensorKind = 30
)

func (k tensorKind) elementSize() (int, error) {
	switch k {
	case kindF32:
		return 4, nil
	case kindF16, kindBF16:
		return 2, nil
	case kindI64:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w tensor kind %d", ErrUnsupported, k)
	}
}

func (k tensorKind) dtype() ml.DType {
	switch k {
	case kindF32:
		return ml.DTypeF32
	case kindF16:
		return ml.DTypeF16
	case kindBF16:
		return ml.DTypeBF16
	case kindI64:
		return ml.DTypeI64
	default:
		return ml.DTypeOther
	}
}

// kindFor picks the storage kind of a in a checkpoint written with storage.
func kindFor(a *ml.Array, storage ml.DType) tensorKind {
	if a.DType == ml.DTypeI64 {
		return kindI64
	}
	switch storage {
	case ml.DTypeF16:
		return kindF16
	case ml.DTypeBF16:
		return kindBF16
	default:
		return kindF32
	}
}

// encode serialisiert die Elemente von a im Format kind
func encode(a *ml.Array, kind tensorKind) []byte {
	switch kind {
	case kindI64:
		b := make([]byte, 8*len(a.Ints))
		for i, v := range a.Ints {
			binary.LittleEndian.PutUint64(b[8*i:], uint64(v))
		}
		return b
	case kindF16:
		b := make([]byte, 2*len(a.Floats))
		for i, v := range a.Floats {
			binary.LittleEndian.PutUint16(b[2*i:], float16.Fromfloat32(v).Bits())
		}
		return b
	case kindBF16:
		return bfloat16.EncodeFloat32(a.Floats)
	default:
		b := make([]byte, 4*len(a.Floats))
		for i, v := range a.Floats {
			binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
		}
		return b
	}
}

// decode erzeugt ein ml.Array aus Rohdaten. Float-Tensoren werden immer als
// F32 geladen.
func decode(b []byte, kind tensorKind, shape []int) (*ml.Array, error) {
	size, err := kind.elementSize()
	if err != nil {
		return nil, err
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes for element size %d", ErrCorrupt, len(b), size)
	}

	n := len(b) / size
	switch kind {
	case kindI64:
		ints := make([]int64, n)
		for i := range ints {
			ints[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
		}
		return &ml.Array{DType: ml.DTypeI64, Shape: shape, Ints: ints}, nil
	case kindF16:
		floats := make([]float32, n)
		for i := range floats {
			floats[i] = float16.Frombits(binary.LittleEndian.Uint16(b[2*i:])).Float32()
		}
		return &ml.Array{DType: ml.DTypeF32, Shape: shape, Floats: floats}, nil
	case kindBF16:
		return &ml.Array{DType: ml.DTypeF32, Shape: shape, Floats: bfloat16.DecodeFloat32(b)}, nil
	default:
		floats := make([]float32, n)
		for i := range floats {
			floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
		return &ml.Array{DType: ml.DTypeF32, Shape: shape, Floats: floats}, nil
	}
}

// padding berechnet das Padding fuer Alignment
func padding(offset, align int64) int64 {
	return (align - offset%align) % align
}
