// Package session - Ueberwachte Session mit Hooks und Checkpoint-Wiederherstellung
//
// Dieses Modul enthaelt:
// - State: Created -> Initializing -> Open -> {StoppedGracefully | ClosedAbruptly}
// - Outcome: Ergebnis eines Schritts (Continue, StopRequested, RecoverableFault, FatalFault)
// - New: Initialisiert Variablen genau einmal (Wiederherstellung oder Initializer)
// - Run: Fuehrt einen Schritt aus und klassifiziert Fehler genau einmal
// - Close: Ordentliches, idempotentes Schliessen
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/hooks"
	"github.com/ollama/estimator/logutil"
	"github.com/ollama/estimator/ml"
)

// State is the lifecycle state of a session.
type State int

const (
	Created State = iota
	Initializing
	Open
	StoppedGracefully
	ClosedAbruptly
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initializing:
		return "initializing"
	case Open:
		return "open"
	case StoppedGracefully:
		return "stopped gracefully"
	case ClosedAbruptly:
		return "closed abruptly"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Closed reports whether s is terminal.
func (s State) Closed() bool {
	return s == StoppedGracefully || s == ClosedAbruptly
}

// Outcome classifies one step.
type Outcome int

const (
	// Continue means the loop may issue another step.
	Continue Outcome = iota

	// StopRequested means a hook asked to stop or the input is exhausted.
	// The session is still open; the caller closes it gracefully.
	StopRequested

	// RecoverableFault means a transport or coordination fault ended the
	// session. It is already closed gracefully.
	RecoverableFault

	// FatalFault means the step failed. The session is already closed
	// abruptly and the error must be surfaced.
	FatalFault
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case StopRequested:
		return "stop requested"
	case RecoverableFault:
		return "recoverable fault"
	case FatalFault:
		return "fatal fault"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Options configure New.
type Options struct {
	Graph   *ml.Graph
	Backend ml.Backend
	Config  ml.SessionConfig
	Hooks   *hooks.Chain

	// CheckpointPath restores from an explicit checkpoint. Otherwise the
	// latest checkpoint in CheckpointDir is restored, if any.
	CheckpointPath string
	CheckpointDir  string

	// Saver restores checkpoints. The zero Saver is used when nil.
	Saver *checkpoint.Saver

	// LocalInit are run after every initialization, e.g. iterator
	// initializers. They are never superseded by a restore.
	LocalInit []*ml.Node

	// Closers are released on either close path, after the raw session,
	// e.g. the summary writer of the invocation.
	Closers []io.Closer
}

// Session wraps a raw session with hooks, restoration and a two-phase
// close. Exactly one of graceful and abrupt close happens.
type Session struct {
	graph   *ml.Graph
	raw     ml.Session
	chain   *hooks.Chain
	closers []io.Closer

	mu       sync.Mutex
	state    State
	stop     bool
	restored string
}

// New creates and initializes a session. On failure all acquired
// resources are released.
func New(ctx context.Context, opts Options) (_ *Session, err error) {
	g := opts.Graph
	if g == nil || opts.Backend == nil {
		return nil, fmt.Errorf("%w: session needs a graph and a backend", ml.ErrInvalidArgument)
	}

	chain := opts.Hooks
	if chain == nil {
		chain = hooks.NewChain(nil, nil, true)
	}

	s := &Session{graph: g, chain: chain, closers: opts.Closers, state: Created}

	if err := g.Acquire(); err != nil {
		s.releaseClosers()
		return nil, err
	}

	// hooks and initializers add nodes, so a graph serves one session
	if g.Finalized() {
		g.Release()
		s.releaseClosers()
		return nil, fmt.Errorf("%w: graph was finalized by an earlier session", ml.ErrFailedPrecondition)
	}

	s.state = Initializing
	defer func() {
		if err != nil {
			s.abort(err)
		}
	}()

	if err := chain.Begin(g); err != nil {
		return nil, err
	}

	global, local := g.GlobalInitializer(), g.LocalInitializer()
	g.Finalize()

	s.raw, err = opts.Backend.NewSession(g, opts.Config)
	if err != nil {
		return nil, err
	}

	path := opts.CheckpointPath
	if path == "" {
		path, _ = checkpoint.Latest(opts.CheckpointDir)
	}

	if path != "" {
		saver := opts.Saver
		if saver == nil {
			saver = &checkpoint.Saver{}
		}
		if err := saver.Restore(path, g, s.raw.State()); err != nil {
			return nil, fmt.Errorf("restore %s: %w", path, err)
		}
		s.restored = path
	} else {
		if _, err := s.raw.Run(ctx, nil, global); err != nil {
			return nil, fmt.Errorf("initialize variables: %w", err)
		}
	}

	if _, err := s.raw.Run(ctx, nil, append([]*ml.Node{local}, opts.LocalInit...)...); err != nil {
		return nil, fmt.Errorf("initialize local state: %w", err)
	}

	if err := chain.AfterCreateSession(ctx, s.raw); err != nil {
		return nil, err
	}

	s.state = Open
	slog.Debug("session open", "restored", s.restored, "hooks", chain.Len())
	return s, nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restored returns the checkpoint the session was restored from.
func (s *Session) Restored() string {
	return s.restored
}

// Raw returns the wrapped session.
func (s *Session) Raw() ml.Session {
	return s.raw
}

// ShouldStop reports whether the loop must not issue another step.
func (s *Session) ShouldStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop || s.state != Open
}

// GlobalStep reads the global step without running a step.
func (s *Session) GlobalStep() (int64, bool) {
	if s.raw == nil {
		return 0, false
	}
	a, ok := s.raw.State().Get(ml.GlobalStepName)
	if !ok {
		return 0, false
	}
	return a.Int(), true
}

// Run executes one step with all hooks. Errors are classified here: data
// exhaustion is a stop request, recoverable faults close the session
// gracefully, and every other error closes it abruptly.
func (s *Session) Run(ctx context.Context, fetches []*ml.Node, targets ...*ml.Node) ([]any, Outcome, error) {
	if state := s.State(); state != Open {
		return nil, FatalFault, fmt.Errorf("%w: session is %s", ml.ErrSessionClosed, state)
	}

	values, stop, err := s.chain.Step(ctx, s.raw, fetches, targets...)
	switch {
	case err == nil:
		if stop {
			s.requestStop()
			return values, StopRequested, nil
		}
		logutil.Trace("step", "fetches", len(fetches), "targets", len(targets))
		return values, Continue, nil

	case errors.Is(err, hooks.ErrHookFailed):
		s.abort(err)
		return nil, FatalFault, err

	case errors.Is(err, ml.ErrOutOfRange):
		slog.Debug("input exhausted", "error", err)
		s.requestStop()
		return nil, StopRequested, nil

	case ml.IsRecoverable(err):
		slog.Warn("recoverable session error, closing session", "error", err)
		if cerr := s.Close(); cerr != nil {
			slog.Warn("error during graceful close", "error", cerr)
		}
		return nil, RecoverableFault, err

	default:
		s.abort(err)
		return nil, FatalFault, err
	}
}

func (s *Session) requestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = true
}

// Close runs End hooks and releases the session. Closing a closed session
// is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state.Closed() {
		s.mu.Unlock()
		return nil
	}
	open := s.state == Open
	s.state = StoppedGracefully
	s.mu.Unlock()

	var errs []error
	if open {
		errs = append(errs, s.chain.End(context.Background(), s.raw))
	}
	errs = append(errs, s.release()...)

	slog.Debug("session stopped gracefully")
	return errors.Join(errs...)
}

// abort releases the session without End hooks.
func (s *Session) abort(cause error) {
	s.mu.Lock()
	if s.state.Closed() {
		s.mu.Unlock()
		return
	}
	s.state = ClosedAbruptly
	s.mu.Unlock()

	for _, err := range s.release() {
		slog.Warn("error releasing session", "error", err)
	}
	slog.Debug("session closed abruptly", "cause", cause)
}

func (s *Session) release() []error {
	var errs []error
	if s.raw != nil {
		if err := s.raw.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.graph.Release()
	return append(errs, s.releaseClosers()...)
}

func (s *Session) releaseClosers() []error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errs
}
