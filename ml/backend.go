// backend.go - Ausfuehrungs-Backends und Sessions
//
// Enthaelt:
// - Session: Fuehrt Fetches und Targets eines finalisierten Graphs aus
// - Backend: Erzeugt Sessions fuer einen Master
// - RegisterBackend/NewBackend/Backends: Registry der Backend-Fabriken
package ml

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Session runs a finalized graph. Runs of one session are serialized.
type Session interface {
	// Run evaluates targets for their side effects, then fetches. The
	// returned slice has one value per fetch.
	Run(ctx context.Context, fetches []*Node, targets ...*Node) ([]any, error)

	// State returns the variable storage of the session.
	State() *State

	Close() error
}

// SessionConfig is passed to Backend.NewSession.
type SessionConfig struct {
	// Master is the execution target. The empty string means in-process.
	Master string

	// TraceNodes logs every node evaluation at trace level.
	TraceNodes bool
}

// Backend creates sessions.
type Backend interface {
	Name() string
	NewSession(g *Graph, cfg SessionConfig) (Session, error)
}

// DefaultBackend is used when no backend name is configured.
const DefaultBackend = "eager"

var (
	backendsMu sync.Mutex
	backends   = make(map[string]func() (Backend, error))
)

// RegisterBackend registers a backend factory function.
func RegisterBackend(name string, f func() (Backend, error)) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, ok := backends[name]; ok {
		panic("backend: backend already registered")
	}

	backends[name] = f
}

// NewBackend creates the named backend.
func NewBackend(name string) (Backend, error) {
	if name == "" {
		name = DefaultBackend
	}

	backendsMu.Lock()
	f, ok := backends[name]
	backendsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported backend %q", ErrInvalidArgument, name)
	}

	return f()
}

// Backends lists the registered backend names.
func Backends() []string {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
