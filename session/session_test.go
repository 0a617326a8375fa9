package session

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/dataset"
	"github.com/ollama/estimator/hooks"
	"github.com/ollama/estimator/ml"
	"github.com/ollama/estimator/ml/backend/eager"
)

// counter counts hook callbacks.
type counter struct {
	hooks.Base
	begins, created, ends int
}

func (c *counter) Begin(*ml.Graph) error {
	c.begins++
	return nil
}

func (c *counter) AfterCreateSession(context.Context, ml.Session) error {
	c.created++
	return nil
}

func (c *counter) End(context.Context, ml.Session) error {
	c.ends++
	return nil
}

type closer struct{ n int }

func (c *closer) Close() error {
	c.n++
	return nil
}

type graph struct {
	g     *ml.Graph
	train *ml.Node
	fail  *ml.Node
	input *ml.Iterator
}

func newGraph(err error) *graph {
	g := ml.NewGraph()
	step := g.CreateGlobalStep()
	input := g.NewIterator("input")
	next := input.Next()
	inc := step.AssignAdd(1)
	return &graph{
		g:     g,
		input: input,
		train: g.Group("train", next, inc),
		fail: g.NewNode("fail", func(*ml.Frame) (any, error) {
			return nil, err
		}),
	}
}

func open(t *testing.T, gr *graph, n int, extra ...hooks.Hook) (*Session, *counter, *closer) {
	t.Helper()

	c := &counter{}
	cl := &closer{}
	backend, err := eager.New()
	require.NoError(t, err)

	s, err := New(t.Context(), Options{
		Graph:     gr.g,
		Backend:   backend,
		Hooks:     hooks.NewChain(append([]hooks.Hook{c}, extra...), nil, true),
		LocalInit: []*ml.Node{gr.input.Initializer(dataset.FromSlice(make([]int, n)))},
		Closers:   []io.Closer{cl},
	})
	require.NoError(t, err)
	require.Equal(t, Open, s.State())
	require.Equal(t, 1, c.begins)
	require.Equal(t, 1, c.created)
	return s, c, cl
}

func TestGracefulCloseIdempotent(t *testing.T) {
	gr := newGraph(nil)
	s, c, cl := open(t, gr, 10)

	for range 2 {
		_, outcome, err := s.Run(t.Context(), nil, gr.train)
		require.NoError(t, err)
		require.Equal(t, Continue, outcome)
	}

	step, ok := s.GlobalStep()
	require.True(t, ok)
	require.Equal(t, int64(2), step)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, StoppedGracefully, s.State())
	require.Equal(t, 1, c.ends)
	require.Equal(t, 1, cl.n)
	require.NoError(t, gr.g.Acquire(), "Graph nach Close nicht freigegeben")
}

func TestOutOfRangeRequestsStop(t *testing.T) {
	gr := newGraph(nil)
	s, c, _ := open(t, gr, 2)

	var outcomes []Outcome
	for !s.ShouldStop() {
		_, outcome, err := s.Run(t.Context(), nil, gr.train)
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)
	}

	require.Equal(t, []Outcome{Continue, Continue, StopRequested}, outcomes)
	require.Equal(t, Open, s.State())
	require.NoError(t, s.Close())
	require.Equal(t, 1, c.ends)
}

func TestHookStopRequest(t *testing.T) {
	gr := newGraph(nil)
	s, _, _ := open(t, gr, 10, &hooks.StopAtStep{NumSteps: 2})
	defer s.Close()

	_, outcome, err := s.Run(t.Context(), nil, gr.train)
	require.NoError(t, err)
	require.Equal(t, Continue, outcome)

	_, outcome, err = s.Run(t.Context(), nil, gr.train)
	require.NoError(t, err)
	require.Equal(t, StopRequested, outcome)
	require.True(t, s.ShouldStop())
}

func TestRecoverableFault(t *testing.T) {
	for _, cause := range []error{ml.ErrAborted, ml.ErrUnavailable} {
		t.Run(cause.Error(), func(t *testing.T) {
			gr := newGraph(cause)
			s, c, cl := open(t, gr, 1)

			_, outcome, err := s.Run(t.Context(), nil, gr.fail)
			require.ErrorIs(t, err, cause)
			require.Equal(t, RecoverableFault, outcome)
			require.Equal(t, StoppedGracefully, s.State())
			require.Equal(t, 1, c.ends)

			require.NoError(t, s.Close())
			require.Equal(t, 1, c.ends, "End doppelt aufgerufen")
			require.Equal(t, 1, cl.n)
		})
	}
}

func TestFatalFault(t *testing.T) {
	boom := errors.New("boom")
	gr := newGraph(boom)
	s, c, cl := open(t, gr, 1)

	_, outcome, err := s.Run(t.Context(), nil, gr.fail)
	require.ErrorIs(t, err, boom)
	require.Equal(t, FatalFault, outcome)
	require.Equal(t, ClosedAbruptly, s.State())

	require.NoError(t, s.Close())
	require.Equal(t, 0, c.ends, "End nach abruptem Schliessen aufgerufen")
	require.Equal(t, ClosedAbruptly, s.State())
	require.Equal(t, 1, cl.n)
}

type failing struct {
	hooks.Base
}

func (failing) AfterRun(*hooks.RunContext, hooks.RunValues) error {
	return errors.New("hook exploded")
}

func TestHookErrorIsFatal(t *testing.T) {
	gr := newGraph(nil)
	s, c, _ := open(t, gr, 5, failing{})

	_, outcome, err := s.Run(t.Context(), nil, gr.train)
	require.ErrorIs(t, err, hooks.ErrHookFailed)
	require.Equal(t, FatalFault, outcome)
	require.Equal(t, ClosedAbruptly, s.State())
	require.Equal(t, 0, c.ends)
}

func TestRunAfterClose(t *testing.T) {
	gr := newGraph(nil)
	s, _, _ := open(t, gr, 1)
	require.NoError(t, s.Close())

	_, _, err := s.Run(t.Context(), nil, gr.train)
	require.ErrorIs(t, err, ml.ErrSessionClosed)
}

func TestGraphInUse(t *testing.T) {
	gr := newGraph(nil)
	s, _, _ := open(t, gr, 1)
	defer s.Close()

	backend, _ := eager.New()
	_, err := New(t.Context(), Options{Graph: gr.g, Backend: backend})
	require.ErrorIs(t, err, ml.ErrGraphInUse)
	require.Equal(t, Open, s.State())
}

func TestRestoreLatest(t *testing.T) {
	dir := t.TempDir()

	// write a checkpoint at step 7
	g := ml.NewGraph()
	g.CreateGlobalStep()
	st := ml.NewState()
	st.Set(ml.GlobalStepName, ml.Scalar(7))
	path, err := (&checkpoint.Saver{Dir: dir}).Save(g, st)
	require.NoError(t, err)

	gr := newGraph(nil)
	backend, _ := eager.New()
	s, err := New(t.Context(), Options{
		Graph:         gr.g,
		Backend:       backend,
		CheckpointDir: dir,
		LocalInit:     []*ml.Node{gr.input.Initializer(dataset.FromSlice([]int{1}))},
	})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, path, s.Restored())
	step, _ := s.GlobalStep()
	require.Equal(t, int64(7), step)

	_, outcome, err := s.Run(t.Context(), nil, gr.train)
	require.NoError(t, err)
	require.Equal(t, Continue, outcome)
	step, _ = s.GlobalStep()
	require.Equal(t, int64(8), step)
}

func TestRestoreFailureReleasesGraph(t *testing.T) {
	gr := newGraph(nil)
	c := &counter{}
	cl := &closer{}
	backend, _ := eager.New()

	_, err := New(t.Context(), Options{
		Graph:          gr.g,
		Backend:        backend,
		Hooks:          hooks.NewChain([]hooks.Hook{c}, nil, true),
		CheckpointPath: "/does/not/exist/model.ckpt-1.gguf",
		Closers:        []io.Closer{cl},
	})
	require.Error(t, err)
	require.Equal(t, 0, c.ends)
	require.Equal(t, 1, cl.n)
	require.NoError(t, gr.g.Acquire())
}

func TestUnreachableMaster(t *testing.T) {
	gr := newGraph(nil)
	backend, _ := eager.New()
	_, err := New(t.Context(), Options{
		Graph:   gr.g,
		Backend: backend,
		Config:  ml.SessionConfig{Master: "grpc://chief:2222"},
	})
	require.ErrorIs(t, err, ml.ErrUnavailable)
}

func TestReopenClosedGraph(t *testing.T) {
	gr := newGraph(nil)
	s, _, _ := open(t, gr, 1)
	require.NoError(t, s.Close())

	cl := &closer{}
	backend, _ := eager.New()
	_, err := New(t.Context(), Options{Graph: gr.g, Backend: backend, Closers: []io.Closer{cl}})
	require.ErrorIs(t, err, ml.ErrFailedPrecondition)
	require.Equal(t, 1, cl.n, "Closer nicht freigegeben")
	require.NoError(t, gr.g.Acquire(), "Graph nach Fehler nicht freigegeben")
}
