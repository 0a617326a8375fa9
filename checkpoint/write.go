// Package checkpoint - Checkpoint schreiben
//
// Dieses Modul enthaelt Funktionen zum Schreiben von Checkpoint-Dateien:
// - writeFile: Schreibt Header, KV-Paare, Tensor-Infos und Daten (V3 Format)
// - writeKV: Key-Value Paar Serialisierung
// - writeTensorInfo: Tensor-Metadaten Serialisierung
package checkpoint

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

type tensor struct {
	name   string
	kind   tensorKind
	shape  []uint64
	offset uint64
	data   []byte
}

func (t *tensor) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(t.data)
	return int64(n), err
}

// writeFile schreibt eine komplette Checkpoint-Datei nach f
func writeFile(f *os.File, step int64, ts []*tensor) error {
	// Magic: "GGUF"
	if err := binary.Write(f, binary.LittleEndian, []byte(magic)); err != nil {
		return err
	}

	if err := binary.Write(f, binary.LittleEndian, uint32(version)); err != nil {
		return err
	}

	if err := binary.Write(f, binary.LittleEndian, uint64(len(ts))); err != nil {
		return err
	}

	kv := []struct {
		key   string
		value any
	}{
		{keyAlignment, uint32(alignment)},
		{keyArchitecture, architecture},
		{keyGlobalStep, step},
	}

	if err := binary.Write(f, binary.LittleEndian, uint64(len(kv))); err != nil {
		return err
	}

	for _, e := range kv {
		if err := writeKV(f, e.key, e.value); err != nil {
			return err
		}
	}

	slices.SortStableFunc(ts, func(a, b *tensor) int {
		return cmp.Compare(a.name, b.name)
	})

	var s uint64
	for _, t := range ts {
		t.offset = s
		if err := writeTensorInfo(f, t); err != nil {
			return err
		}
		s += uint64(len(t.data))
		s += uint64(padding(int64(s), alignment))
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	offset += padding(offset, alignment)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, t := range ts {
		w := io.NewOffsetWriter(f, offset+int64(t.offset))
		g.Go(func() error {
			_, err := t.WriteTo(w)
			return err
		})
	}

	return g.Wait()
}

func writeTyped[V any](w io.Writer, t uint32, v V) error {
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.Copy(w, strings.NewReader(s))
	return err
}

// writeKV schreibt ein Key-Value Paar
func writeKV(w io.Writer, k string, v any) error {
	if err := writeString(w, k); err != nil {
		return err
	}

	switch v := v.(type) {
	case uint32:
		return writeTyped(w, typeUint32, v)
	case int64:
		return writeTyped(w, typeInt64, v)
	case string:
		if err := binary.Write(w, binary.LittleEndian, typeString); err != nil {
			return err
		}
		return writeString(w, v)
	default:
		return fmt.Errorf("improper type for '%s'", k)
	}
}

// writeTensorInfo schreibt die Tensor-Metadaten
func writeTensorInfo(w io.Writer, t *tensor) error {
	slog.Debug(t.name, "kind", t.kind, "shape", t.shape, "offset", t.offset)

	if err := writeString(w, t.name); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.shape))); err != nil {
		return err
	}
	for _, n := range t.shape {
		if err := binary.Write(w, binary.LittleEndian, n); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(t.kind)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.offset)
}
