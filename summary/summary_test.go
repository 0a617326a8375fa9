package summary

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReader(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, "train")
	require.NoError(t, err)
	for step := range int64(10) {
		require.NoError(t, w.Add("loss", step, float64(10-step)))
	}
	require.NoError(t, w.Add("steps_per_sec", 9, 3.5))
	require.NoError(t, w.Close())

	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	loss, err := r.Scalars(t.Context(), "train", "loss")
	require.NoError(t, err)
	require.Len(t, loss, 10)
	for i, s := range loss {
		if s.Step != int64(i) || s.Value != float64(10-i) {
			t.Errorf("loss[%d]: erwartet (%d, %v), bekommen (%d, %v)", i, i, float64(10-i), s.Step, s.Value)
		}
	}

	tags, err := r.Tags(t.Context(), "train")
	require.NoError(t, err)
	require.Equal(t, []string{"loss", "steps_per_sec"}, tags)

	all, err := r.Scalars(t.Context(), "train", "")
	require.NoError(t, err)
	require.Len(t, all, 11)
}

func TestRunsAggregateInstances(t *testing.T) {
	dir := t.TempDir()

	for _, run := range []string{"eval", "eval", "train"} {
		w, err := NewWriter(dir, run)
		require.NoError(t, err)
		require.NoError(t, w.Add("mse", 1, 0.5))
		require.NoError(t, w.Close())
	}

	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	runs, err := r.Runs(t.Context())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "eval", runs[0].Name)
	require.Equal(t, 2, runs[0].Instances)
	require.Equal(t, 2, runs[0].Scalars)
	require.Equal(t, "train", runs[1].Name)
}

func TestWriterCloseIdempotent(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "train")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	if err := w.Add("loss", 1, 1); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("erwartet ErrWriterClosed, bekommen %v", err)
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}
