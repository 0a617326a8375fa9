// eager.go - In-Process Referenz-Backend
//
// Enthaelt:
// - Backend: Registriert sich als "eager" und fuehrt Graphen direkt im Prozess aus
// - Session: Serialisierte Runs gegen einen eigenen Variablen-Speicher
package eager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ollama/estimator/ml"
)

func init() {
	ml.RegisterBackend("eager", New)
}

// Backend evaluates graphs in the calling process.
type Backend struct{}

func New() (ml.Backend, error) {
	return &Backend{}, nil
}

func (b *Backend) Name() string {
	return "eager"
}

// NewSession accepts an empty master or "local".
func (b *Backend) NewSession(g *ml.Graph, cfg ml.SessionConfig) (ml.Session, error) {
	if cfg.Master != "" && cfg.Master != "local" {
		return nil, fmt.Errorf("%w: eager backend cannot reach master %q", ml.ErrUnavailable, cfg.Master)
	}
	if !g.Finalized() {
		return nil, fmt.Errorf("%w: graph is not finalized", ml.ErrFailedPrecondition)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:    id.String(),
		graph: g,
		state: ml.NewState(),
		trace: cfg.TraceNodes,
	}
	slog.Debug("session created", "backend", b.Name(), "session", s.id)
	return s, nil
}

// Session is an eager session.
type Session struct {
	id    string
	graph *ml.Graph
	state *ml.State
	trace bool

	run    sync.Mutex
	mu     sync.Mutex
	closed bool
}

// ID returns the unique session id.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() *ml.State {
	return s.state
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Run evaluates targets, then fetches. A concurrent Run fails instead of
// waiting.
func (s *Session) Run(ctx context.Context, fetches []*ml.Node, targets ...*ml.Node) ([]any, error) {
	if s.isClosed() {
		return nil, ml.ErrSessionClosed
	}

	if !s.run.TryLock() {
		return nil, fmt.Errorf("%w: session %s is already running", ml.ErrFailedPrecondition, s.id)
	}
	defer s.run.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := ml.NewFrame(ctx, s.state, s.trace)
	for _, t := range targets {
		if t == nil {
			continue
		}
		if _, err := f.Eval(t); err != nil {
			return nil, err
		}
	}

	values := make([]any, len(fetches))
	for i, n := range fetches {
		v, err := f.Eval(n)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Close releases iterators. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.state.Close()
	slog.Debug("session closed", "session", s.id)
	return nil
}
