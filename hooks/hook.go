// Package hooks - Erweiterungspunkte der Trainings-, Inferenz- und Evaluationsschleifen
//
// Dieses Modul enthaelt:
// - Hook: Callbacks fuer Begin, BeforeRun, AfterRun und End
// - SessionCreatedHook: Optionaler Callback nach dem Oeffnen der Session
// - RunContext/RunArgs/RunValues: Daten eines einzelnen Schritts
// - Base: Leere Implementierung zum Einbetten
package hooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/ollama/estimator/ml"
)

var (
	// ErrHookFailed wraps every error returned by a hook. Hook errors are
	// always fatal to the session.
	ErrHookFailed = errors.New("hook failed")

	// ErrNaNLoss is returned by NanGuard when the loss is not finite.
	ErrNaNLoss = errors.New("model diverged with loss = NaN")
)

// Hook is invoked at the boundaries of a control loop. A hook instance is
// owned by one loop invocation at a time and resets its state in Begin.
type Hook interface {
	// Begin is called once before the graph is finalized. Hooks may add
	// nodes to g.
	Begin(g *ml.Graph) error

	// BeforeRun is called before every step. The returned fetches are
	// merged into the step and their values passed to AfterRun.
	BeforeRun(rc *RunContext) (RunArgs, error)

	// AfterRun is called after every successful step.
	AfterRun(rc *RunContext, v RunValues) error

	// End is called once when the session is closed gracefully. It is
	// skipped on abrupt close.
	End(ctx context.Context, s ml.Session) error
}

// SessionCreatedHook is implemented by hooks that need the initialized
// session before the first step.
type SessionCreatedHook interface {
	AfterCreateSession(ctx context.Context, s ml.Session) error
}

// RunContext describes the step in progress.
type RunContext struct {
	ctx     context.Context
	Session ml.Session

	// Fetches are the nodes requested by the loop, without hook fetches.
	Fetches []*ml.Node

	stop bool
}

// NewRunContext returns a context for one step.
func NewRunContext(ctx context.Context, s ml.Session, fetches []*ml.Node) *RunContext {
	return &RunContext{ctx: ctx, Session: s, Fetches: fetches}
}

func (rc *RunContext) Context() context.Context {
	return rc.ctx
}

// RequestStop asks the loop to stop after the current step.
func (rc *RunContext) RequestStop() {
	rc.stop = true
}

func (rc *RunContext) StopRequested() bool {
	return rc.stop
}

// RunArgs are the additional fetches of one hook.
type RunArgs struct {
	Fetches []*ml.Node
}

// RunValues holds the values of the fetches a hook returned from
// BeforeRun, in the same order.
type RunValues struct {
	Results []any
}

// Array returns result i as an array.
func (v RunValues) Array(i int) (*ml.Array, error) {
	if i >= len(v.Results) {
		return nil, fmt.Errorf("%w: no result %d", ml.ErrInvalidArgument, i)
	}
	return ml.AsArray(v.Results[i])
}

// counter reads an int64 counter from the session state. After a run the
// state holds every increment of that run, unlike a fetched read of the
// same counter.
func counter(s ml.Session, name string) (int64, error) {
	a, ok := s.State().Get(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not initialized", ml.ErrFailedPrecondition, name)
	}
	return a.Int(), nil
}

// Base implements Hook with no-ops.
type Base struct{}

func (Base) Begin(*ml.Graph) error { return nil }
func (Base) BeforeRun(*RunContext) (RunArgs, error) { return RunArgs{}, nil }
func (Base) AfterRun(*RunContext, RunValues) error { return nil }
func (Base) End(context.Context, ml.Session) error { return nil }

// name returns a readable hook name for errors and logs.
func name(h Hook) string {
	if n, ok := h.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

func failed(h Hook, stage string, err error) error {
	return fmt.Errorf("%w: %s.%s: %w", ErrHookFailed, name(h), stage, err)
}
