package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/estimator/ml"
)

func newGraph(step int64) (*ml.Graph, *ml.State) {
	g := ml.NewGraph()
	g.CreateGlobalStep()
	g.NewVariable("weights", ml.FromFloats([]float32{0.5, -1.25, 3}))
	g.NewVariable("bias", ml.ScalarFloat(0.1))
	g.CreateEvalStep()

	st := ml.NewState()
	for _, v := range g.Variables() {
		st.Set(v.Name(), v.Initial())
	}
	st.Set(ml.GlobalStepName, ml.Scalar(step))
	return g, st
}

func TestSaveRestore(t *testing.T) {
	dir := t.TempDir()
	g, st := newGraph(42)
	s := &Saver{Dir: dir}

	path, err := s.Save(g, st)
	require.NoError(t, err)
	require.Equal(t, Path(dir, "", 42), path)

	g2, _ := newGraph(0)
	st2 := ml.NewState()
	require.NoError(t, s.Restore(path, g2, st2))

	for _, name := range []string{"weights", "bias", ml.GlobalStepName} {
		want, _ := st.Get(name)
		got, ok := st2.Get(name)
		require.True(t, ok, name)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s unterscheidet sich (-want +got):\n%s", name, diff)
		}
	}

	if _, ok := st2.Get(ml.EvalStepName); ok {
		t.Error("lokale Variable eval_step wurde wiederhergestellt")
	}
}

func TestSaveHalfPrecision(t *testing.T) {
	cases := []ml.DType{ml.DTypeF16, ml.DTypeBF16}
	for _, dtype := range cases {
		t.Run(dtype.String(), func(t *testing.T) {
			dir := t.TempDir()
			g, st := newGraph(7)
			s := &Saver{Dir: dir, DType: dtype}

			path, err := s.Save(g, st)
			require.NoError(t, err)

			a, ok, err := ReadScalar(path, "weights")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, ml.DTypeF32, a.DType)
			require.InDeltaSlice(t, []float32{0.5, -1.25, 3}, a.Floats, 0.01)

			step, ok, err := ReadScalar(path, ml.GlobalStepName)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, int64(7), step.Int())
		})
	}
}

func TestRestoreMissingVariable(t *testing.T) {
	dir := t.TempDir()
	g, st := newGraph(1)
	s := &Saver{Dir: dir}
	path, err := s.Save(g, st)
	require.NoError(t, err)

	g2, _ := newGraph(0)
	g2.NewVariable("extra", ml.ScalarFloat(1))
	err = s.Restore(path, g2, ml.NewState())
	require.ErrorIs(t, err, ErrMissingVariable)
}

func TestReadScalarAbsentName(t *testing.T) {
	dir := t.TempDir()
	g, st := newGraph(3)
	path, err := (&Saver{Dir: dir}).Save(g, st)
	require.NoError(t, err)

	a, ok, err := ReadScalar(path, "does_not_exist")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, a)
}

func TestReadScalarCorrupt(t *testing.T) {
	dir := t.TempDir()
	g, st := newGraph(3)
	path, err := (&Saver{Dir: dir}).Save(g, st)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	cases := map[string][]byte{
		"truncated header": b[:12],
		"truncated data":   b[:len(b)-4],
		"bad magic":        append([]byte("XXXX"), b[4:]...),
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "model.ckpt-3.gguf")
			require.NoError(t, os.WriteFile(p, content, 0o644))

			_, _, err := ReadScalar(p, "weights")
			if err == nil {
				t.Fatal("erwartet Fehler fuer beschaedigte Datei")
			}
			if !errors.Is(err, ErrCorrupt) && !errors.Is(err, ErrUnsupported) {
				t.Errorf("erwartet ErrCorrupt oder ErrUnsupported, bekommen %v", err)
			}
		})
	}
}

func TestReadScalarMissingFile(t *testing.T) {
	_, _, err := ReadScalar(filepath.Join(t.TempDir(), "nope.gguf"), ml.GlobalStepName)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLatestEmpty(t *testing.T) {
	if p, ok := Latest(t.TempDir()); ok {
		t.Errorf("erwartet keinen Checkpoint, bekommen %s", p)
	}
	if _, ok := Latest(""); ok {
		t.Error("erwartet keinen Checkpoint fuer leeres Verzeichnis")
	}
}

func TestLatestIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := &Saver{Dir: dir}
	for _, step := range []int64{10, 20, 30} {
		g, st := newGraph(step)
		_, err := s.Save(g, st)
		require.NoError(t, err)
	}

	first, ok := Latest(dir)
	require.True(t, ok)
	second, ok := Latest(dir)
	require.True(t, ok)
	require.Equal(t, first, second)
	require.Equal(t, Path(dir, "", 30), first)
}

func TestLatestFallbackScan(t *testing.T) {
	dir := t.TempDir()
	s := &Saver{Dir: dir}
	for _, step := range []int64{5, 100, 20} {
		g, st := newGraph(step)
		_, err := s.Save(g, st)
		require.NoError(t, err)
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("{not json"), 0o644))
	p, ok := Latest(dir)
	require.True(t, ok)
	require.Equal(t, Path(dir, "", 100), p)

	require.NoError(t, os.Remove(filepath.Join(dir, IndexFile)))
	p, ok = Latest(dir)
	require.True(t, ok)
	require.Equal(t, Path(dir, "", 100), p)
}

func TestLatestSkipsDeletedFiles(t *testing.T) {
	dir := t.TempDir()
	s := &Saver{Dir: dir}
	for _, step := range []int64{1, 2} {
		g, st := newGraph(step)
		_, err := s.Save(g, st)
		require.NoError(t, err)
	}

	require.NoError(t, os.Remove(Path(dir, "", 2)))
	p, ok := Latest(dir)
	require.True(t, ok)
	require.Equal(t, Path(dir, "", 1), p)
}

func TestRetention(t *testing.T) {
	dir := t.TempDir()
	s := &Saver{Dir: dir, MaxToKeep: 2}
	for _, step := range []int64{1, 2, 3, 4} {
		g, st := newGraph(step)
		_, err := s.Save(g, st)
		require.NoError(t, err)
	}

	want := []string{Path(dir, "", 3), Path(dir, "", 4)}
	if diff := cmp.Diff(want, List(dir)); diff != "" {
		t.Errorf("List (-want +got):\n%s", diff)
	}

	idx, err := ReadIndex(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"model.ckpt-3.gguf", "model.ckpt-4.gguf"}, idx.All)
	require.Equal(t, "model.ckpt-4.gguf", idx.Latest)
}

func TestStepFromPath(t *testing.T) {
	cases := []struct {
		path string
		step int64
		ok   bool
	}{
		{"/tmp/model.ckpt-100.gguf", 100, true},
		{"eval.ckpt-0.gguf", 0, true},
		{"model.ckpt-abc.gguf", 0, false},
		{"model.ckpt-5", 0, false},
		{"checkpoint", 0, false},
	}
	for _, tt := range cases {
		step, ok := StepFromPath(tt.path)
		if step != tt.step || ok != tt.ok {
			t.Errorf("StepFromPath(%q): erwartet (%d, %v), bekommen (%d, %v)", tt.path, tt.step, tt.ok, step, ok)
		}
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	s := &Saver{Dir: dir}
	g, st := newGraph(1)
	_, err := s.Save(g, st)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	var got []string
	for path, err := range Watch(ctx, dir) {
		require.NoError(t, err)
		got = append(got, path)
		if len(got) == 1 {
			g, st := newGraph(2)
			_, err := s.Save(g, st)
			require.NoError(t, err)
		}
		if len(got) == 2 {
			break
		}
	}

	require.Equal(t, []string{Path(dir, "", 1), Path(dir, "", 2)}, got)
}
