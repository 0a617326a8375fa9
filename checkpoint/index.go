// Package checkpoint - Checkpoint-Index und Suche
//
// Dieses Modul enthaelt die Verwaltung des Index im Checkpoint-Verzeichnis:
// - Index: Inhalt der Index-Datei "checkpoint"
// - Latest: Neuester gueltiger Checkpoint eines Verzeichnisses
// - List: Alle gueltigen Checkpoints, aufsteigend nach Schritt
// - Path/StepFromPath: Dateinamen <prefix>.ckpt-<step>.gguf
package checkpoint

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const (
	// IndexFile is the name of the index file inside a checkpoint directory.
	IndexFile = "checkpoint"

	// DefaultPrefix is the file name prefix of checkpoints written by Saver.
	DefaultPrefix = "model"

	ext = ".gguf"
)

// Index lists checkpoint files relative to their directory. Latest is
// also the last element of All.
type Index struct {
	Latest string   `json:"model_checkpoint_path"`
	All    []string `json:"all_model_checkpoint_paths"`
}

// Path returns the checkpoint path for step.
func Path(dir, prefix string, step int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s.ckpt-%d%s", cmp.Or(prefix, DefaultPrefix), step, ext))
}

// StepFromPath parses the step out of a checkpoint file name.
func StepFromPath(path string) (int64, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ext)
	i := strings.LastIndex(name, ".ckpt-")
	if i < 0 || !strings.HasSuffix(filepath.Base(path), ext) {
		return 0, false
	}

	step, err := strconv.ParseInt(name[i+len(".ckpt-"):], 10, 64)
	if err != nil || step < 0 {
		return 0, false
	}
	return step, true
}

// ReadIndex reads the index file of dir.
func ReadIndex(dir string) (Index, error) {
	var idx Index
	b, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return idx, err
	}
	if err := json.Unmarshal(b, &idx); err != nil {
		return idx, fmt.Errorf("%w: index: %v", ErrCorrupt, err)
	}
	return idx, nil
}

// writeIndex replaces the index file atomically.
func writeIndex(dir string, idx Index) error {
	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+IndexFile+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), filepath.Join(dir, IndexFile))
}

func exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Latest returns the newest checkpoint in dir whose file exists. Without a
// usable index the directory is scanned by step. Latest never modifies dir.
func Latest(dir string) (string, bool) {
	if dir == "" {
		return "", false
	}

	idx, err := ReadIndex(dir)
	switch {
	case err == nil:
		candidates := slices.Clone(idx.All)
		if idx.Latest != "" {
			candidates = append(candidates, idx.Latest)
		}
		for _, name := range slices.Backward(candidates) {
			path := name
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, name)
			}
			if exists(path) {
				return path, true
			}
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		slog.Warn("ignoring checkpoint index", "dir", dir, "error", err)
	}

	paths := scan(dir)
	if len(paths) == 0 {
		return "", false
	}
	return paths[len(paths)-1], true
}

// List returns all checkpoint files in dir ordered by step.
func List(dir string) []string {
	return scan(dir)
}

func scan(dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.ckpt-*"+ext))
	if err != nil {
		return nil
	}

	type entry struct {
		path string
		step int64
	}
	var entries []entry
	for _, m := range matches {
		if step, ok := StepFromPath(m); ok && exists(m) {
			entries = append(entries, entry{m, step})
		}
	}

	slices.SortFunc(entries, func(a, b entry) int {
		return cmp.Or(cmp.Compare(a.step, b.step), cmp.Compare(a.path, b.path))
	})

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	return paths
}
