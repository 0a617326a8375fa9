// context.go - Ausfuehrungs-Kontext und Variablen-Speicher
//
// Enthaelt:
// - Frame: Zustand eines einzelnen Run-Aufrufs (memoisierte Knotenwerte)
// - State: Variablen-Speicher und Iterator-Zustaende einer Session
package ml

import (
	"context"
	"sync"

	"github.com/ollama/estimator/logutil"
)

// Frame evaluates nodes for one run. Every node is evaluated at most once
// per frame; errors are memoized as well.
type Frame struct {
	ctx   context.Context
	state *State
	cache map[*Node]result
	trace bool
}

type result struct {
	value any
	err   error
}

// NewFrame starts a run against state.
func NewFrame(ctx context.Context, state *State, trace bool) *Frame {
	return &Frame{ctx: ctx, state: state, cache: make(map[*Node]result), trace: trace}
}

// Context returns the context of the run.
func (f *Frame) Context() context.Context {
	return f.ctx
}

// Eval returns the value of n in this run.
func (f *Frame) Eval(n *Node) (any, error) {
	if r, ok := f.cache[n]; ok {
		return r.value, r.err
	}

	if f.trace {
		logutil.Trace("eval", "node", n.name)
	}

	v, err := n.fn(f)
	f.cache[n] = result{value: v, err: err}
	return v, err
}

// Array evaluates n and converts the value to *Array.
func (f *Frame) Array(n *Node) (*Array, error) {
	v, err := f.Eval(n)
	if err != nil {
		return nil, err
	}
	return AsArray(v)
}

// State is the variable storage of a session. It also owns the pull
// iterators of bound datasets.
type State struct {
	mu     sync.Mutex
	values map[string]*Array
	iters  map[*Iterator]*iteratorState
}

func NewState() *State {
	return &State{
		values: make(map[string]*Array),
		iters:  make(map[*Iterator]*iteratorState),
	}
}

// Get returns the stored value of a variable. The caller must not modify it.
func (s *State) Get(name string) (*Array, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.values[name]
	return a, ok
}

// Set stores a variable value.
func (s *State) Set(name string, a *Array) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = a
}

// Add adds delta to an int64 scalar and returns a copy of the new value.
func (s *State) Add(name string, delta int64) (*Array, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.values[name]
	if !ok {
		return nil, false
	}
	if a.DType != DTypeI64 || len(a.Ints) == 0 {
		a = Scalar(a.Int())
	}
	a.Ints[0] += delta
	s.values[name] = a
	return a.Clone(), true
}

// Snapshot copies the values of all persisted variables.
func (s *State) Snapshot(vars []*Variable) map[string]*Array {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(map[string]*Array, len(vars))
	for _, v := range vars {
		if v.local {
			continue
		}
		if a, ok := s.values[v.name]; ok {
			snap[v.name] = a.Clone()
		}
	}
	return snap
}

func (s *State) iterator(it *Iterator) *iteratorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iters[it]
}

func (s *State) bind(it *Iterator, st *iteratorState) {
	s.mu.Lock()
	prev := s.iters[it]
	s.iters[it] = st
	s.mu.Unlock()

	if prev != nil {
		prev.release()
	}
}

// Close releases all bound iterators. Variable values stay readable.
func (s *State) Close() {
	s.mu.Lock()
	iters := s.iters
	s.iters = make(map[*Iterator]*iteratorState)
	s.mu.Unlock()

	for _, st := range iters {
		st.release()
	}
}
