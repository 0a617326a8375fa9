// Package checkpoint - Checkpoint lesen
//
// Dieses Modul enthaelt die Lese-Funktionen fuer Checkpoint-Dateien:
// - File: Geoeffnete Datei mit Metadaten und Tensor-Infos
// - Open: Liest Header, KV-Paare und Tensor-Infos, aber keine Tensor-Daten
// - Tensor: Liest genau einen Tensor
// - ReadScalar: Liest einen benannten Wert ohne den Rest der Datei zu laden
package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/ollama/estimator/ml"
)

// Upper bounds that reject garbage headers before allocating.
const (
	maxEntries   = 1 << 20
	maxStringLen = 1 << 16
	maxDims      = 8
)

// TensorInfo beschreibt einen gespeicherten Tensor
type TensorInfo struct {
	Name   string
	Shape  []int
	DType  ml.DType
	kind   tensorKind
	offset uint64
}

// Elements gibt die Anzahl der Elemente zurueck
func (t TensorInfo) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// File repraesentiert eine geoeffnete Checkpoint-Datei
type File struct {
	Version uint32

	keyValues map[string]any
	tensors   []TensorInfo
	offset    int64
	size      int64

	file   *os.File
	reader *countingReader
}

type countingReader struct {
	r      *bufio.Reader
	offset int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.offset += int64(n)
	return n, err
}

// Open oeffnet eine Checkpoint-Datei read-only und parst den Header
func Open(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	f, err := open(path, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return f, nil
}

func open(path string, file *os.File) (*File, error) {
	fi, err := file.Stat()
	if err != nil {
		return nil, err
	}

	f := &File{keyValues: make(map[string]any), file: file, size: fi.Size()}
	f.reader = &countingReader{r: bufio.NewReaderSize(file, 32<<10)}
	if err := f.readHeader(); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s: truncated header", ErrCorrupt, path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return f, nil
}

func (f *File) readHeader() error {
	var m [4]byte
	if _, err := io.ReadFull(f.reader, m[:]); err != nil {
		return err
	}
	if !bytes.Equal(m[:], []byte(magic)) {
		return fmt.Errorf("%w file type %v", ErrUnsupported, m)
	}

	var err error
	if f.Version, err = read[uint32](f); err != nil {
		return err
	}
	if f.Version < 2 {
		return fmt.Errorf("%w version %v", ErrUnsupported, f.Version)
	}

	numTensors, err := read[uint64](f)
	if err != nil {
		return err
	}
	numKV, err := read[uint64](f)
	if err != nil {
		return err
	}
	if numTensors > maxEntries || numKV > maxEntries {
		return fmt.Errorf("%w: %d tensors, %d key values", ErrCorrupt, numTensors, numKV)
	}

	for range numKV {
		k, v, err := f.readKeyValue()
		if err != nil {
			return err
		}
		f.keyValues[k] = v
	}

	for range numTensors {
		t, err := f.readTensor()
		if err != nil {
			return err
		}
		f.tensors = append(f.tensors, t)
	}

	align := int64(alignment)
	if v, ok := f.keyValues[keyAlignment].(uint32); ok && v > 0 {
		align = int64(v)
	}
	f.offset = f.reader.offset + padding(f.reader.offset, align)
	return nil
}

// readTensor liest die Metadaten eines einzelnen Tensors
func (f *File) readTensor() (TensorInfo, error) {
	name, err := readString(f)
	if err != nil {
		return TensorInfo{}, err
	}

	dims, err := read[uint32](f)
	if err != nil {
		return TensorInfo{}, err
	}
	if dims > maxDims {
		return TensorInfo{}, fmt.Errorf("%w: tensor %s has %d dimensions", ErrCorrupt, name, dims)
	}

	var shape []int
	for range dims {
		d, err := read[uint64](f)
		if err != nil {
			return TensorInfo{}, err
		}
		shape = append(shape, int(d))
	}

	kind, err := read[uint32](f)
	if err != nil {
		return TensorInfo{}, err
	}
	if _, err := tensorKind(kind).elementSize(); err != nil {
		return TensorInfo{}, err
	}

	offset, err := read[uint64](f)
	if err != nil {
		return TensorInfo{}, err
	}

	return TensorInfo{
		Name:   name,
		Shape:  shape,
		DType:  tensorKind(kind).dtype(),
		kind:   tensorKind(kind),
		offset: offset,
	}, nil
}

// readKeyValue liest ein einzelnes Key-Value Paar. Arrays werden
// uebersprungen, da Checkpoints keine schreiben.
func (f *File) readKeyValue() (string, any, error) {
	key, err := readString(f)
	if err != nil {
		return "", nil, err
	}

	t, err := read[uint32](f)
	if err != nil {
		return "", nil, err
	}

	value, err := func() (any, error) {
		switch t {
		case typeUint8:
			return read[uint8](f)
		case typeInt8:
			return read[int8](f)
		case typeUint16:
			return read[uint16](f)
		case typeInt16:
			return read[int16](f)
		case typeUint32:
			return read[uint32](f)
		case typeInt32:
			return read[int32](f)
		case typeUint64:
			return read[uint64](f)
		case typeInt64:
			return read[int64](f)
		case typeFloat32:
			return read[float32](f)
		case typeFloat64:
			return read[float64](f)
		case typeBool:
			return read[bool](f)
		case typeString:
			return readString(f)
		default:
			return nil, fmt.Errorf("%w type %d", ErrUnsupported, t)
		}
	}()
	if err != nil {
		return "", nil, err
	}

	return key, value, nil
}

// read liest einen typisierten Wert aus dem Reader
func read[T any](f *File) (t T, err error) {
	err = binary.Read(f.reader, binary.LittleEndian, &t)
	return t, err
}

// readString liest einen String aus dem Reader
func readString(f *File) (string, error) {
	n, err := read[uint64](f)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("%w: string of %d bytes", ErrCorrupt, n)
	}

	var sb strings.Builder
	if _, err := io.CopyN(&sb, f.reader, int64(n)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Close schliesst die Datei
func (f *File) Close() error {
	return f.file.Close()
}

// GlobalStep gibt den beim Schreiben gespeicherten Schritt zurueck
func (f *File) GlobalStep() (int64, bool) {
	v, ok := f.keyValues[keyGlobalStep].(int64)
	return v, ok
}

// TensorInfos gibt alle Tensor-Infos in Dateireihenfolge zurueck
func (f *File) TensorInfos() []TensorInfo {
	return slices.Clone(f.tensors)
}

// TensorInfo sucht Tensor-Info nach Name
func (f *File) TensorInfo(name string) (TensorInfo, bool) {
	if i := slices.IndexFunc(f.tensors, func(t TensorInfo) bool {
		return t.Name == name
	}); i >= 0 {
		return f.tensors[i], true
	}
	return TensorInfo{}, false
}

// Tensor liest die Daten eines einzelnen Tensors
func (f *File) Tensor(t TensorInfo) (*ml.Array, error) {
	size, err := t.kind.elementSize()
	if err != nil {
		return nil, err
	}

	n := int64(t.Elements()) * int64(size)
	start := f.offset + int64(t.offset)
	if start+n > f.size {
		return nil, fmt.Errorf("%w: tensor %s exceeds file size", ErrCorrupt, t.Name)
	}

	b := make([]byte, n)
	if _, err := f.file.ReadAt(b, start); err != nil {
		return nil, fmt.Errorf("%w: tensor %s: %v", ErrCorrupt, t.Name, err)
	}

	return decode(b, t.kind, slices.Clone(t.Shape))
}

// ReadScalar liest den Tensor name aus der Datei path, ohne den Rest der
// Datei zu laden. Ein fehlender Name ist kein Fehler.
func ReadScalar(path, name string) (*ml.Array, bool, error) {
	f, err := Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	t, ok := f.TensorInfo(name)
	if !ok {
		return nil, false, nil
	}

	a, err := f.Tensor(t)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}
