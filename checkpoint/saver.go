// Package checkpoint - Speichern und Wiederherstellen
//
// Dieses Modul enthaelt den Saver:
// - Save: Schreibt alle persistierten Variablen atomar in eine neue Datei
// - Restore: Laedt alle persistierten Variablen aus einer Datei
// - Aufbewahrung: Nur die neuesten MaxToKeep Checkpoints bleiben erhalten
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/emirpasic/gods/v2/lists/arraylist"

	"github.com/ollama/estimator/ml"
)

// ErrMissingVariable is returned by Restore when a checkpoint lacks a
// persisted variable of the graph.
var ErrMissingVariable = errors.New("variable missing from checkpoint")

// Saver writes and restores checkpoints of one directory.
type Saver struct {
	Dir    string
	Prefix string

	// MaxToKeep bounds the number of retained checkpoints. Zero keeps all.
	MaxToKeep int

	// DType is the storage type of float variables.
	DType ml.DType
}

// Save writes the persisted variables of g held in st. The file is named
// after the current global step.
func (s *Saver) Save(g *ml.Graph, st *ml.State) (string, error) {
	if s.Dir == "" {
		return "", fmt.Errorf("%w: saver has no directory", ml.ErrInvalidArgument)
	}

	snap := st.Snapshot(g.Variables())
	step := snap[ml.GlobalStepName].Int()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}

	ts := make([]*tensor, 0, len(snap))
	for name, a := range snap {
		kind := kindFor(a, s.DType)
		data := encode(a, kind)

		shape := a.Shape
		if size, _ := kind.elementSize(); len(shape) == 0 && len(data) != size {
			shape = []int{len(data) / size}
		}

		dims := make([]uint64, len(shape))
		for i, d := range shape {
			dims[i] = uint64(d)
		}
		ts = append(ts, &tensor{name: name, kind: kind, shape: dims, data: data})
	}

	path := Path(s.Dir, s.Prefix, step)
	if err := writeAtomic(path, step, ts); err != nil {
		return "", err
	}

	if err := s.updateIndex(path); err != nil {
		return "", err
	}

	slog.Info("saved checkpoint", "path", path, "step", step, "variables", len(ts))
	return path, nil
}

func writeAtomic(path string, step int64, ts []*tensor) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := writeFile(f, step, ts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// updateIndex appends path to the index and removes checkpoints beyond
// MaxToKeep.
func (s *Saver) updateIndex(path string) error {
	name := filepath.Base(path)

	idx, err := ReadIndex(s.Dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("rebuilding checkpoint index", "dir", s.Dir, "error", err)
	}

	kept := arraylist.New[string]()
	for _, p := range idx.All {
		if p != name && exists(filepath.Join(s.Dir, p)) {
			kept.Add(p)
		}
	}
	kept.Add(name)

	for s.MaxToKeep > 0 && kept.Size() > s.MaxToKeep {
		old, _ := kept.Get(0)
		kept.Remove(0)
		if err := os.Remove(filepath.Join(s.Dir, old)); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove old checkpoint", "path", old, "error", err)
		} else {
			slog.Debug("removed old checkpoint", "path", old)
		}
	}

	return writeIndex(s.Dir, Index{Latest: name, All: kept.Values()})
}

// Restore loads every persisted variable of g from path into st. Local
// variables are never restored.
func (s *Saver) Restore(path string, g *ml.Graph, st *ml.State) error {
	f, err := Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var missing []string
	for _, v := range g.Variables() {
		if v.Local() {
			continue
		}

		t, ok := f.TensorInfo(v.Name())
		if !ok {
			missing = append(missing, v.Name())
			continue
		}

		a, err := f.Tensor(t)
		if err != nil {
			return err
		}
		if init := v.Initial(); len(a.Shape) == 0 && init != nil && init.Len() == len(a.Floats)+len(a.Ints) {
			a.Shape = slices.Clone(init.Shape)
		}
		st.Set(v.Name(), a)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s: %v", ErrMissingVariable, path, missing)
	}

	slog.Info("restored checkpoint", "path", path)
	return nil
}
