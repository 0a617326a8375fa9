// graph.go - Graph-Konstruktionskontext
//
// Enthaelt:
// - Node: Knoten im Graph (Tensor oder Operation)
// - Graph: Besitzt Variablen, Iteratoren und die Zaehler GlobalStep/GlobalEpoch/EvalStep
// - Constant/Group/NewNode: Knoten-Konstruktoren
// - GlobalInitializer/LocalInitializer: Initialisierungs-Operationen
// - Acquire/Release: Hoechstens eine offene Session pro Graph
package ml

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Well-known counter names. They are also the tensor names in checkpoints.
const (
	GlobalStepName  = "global_step"
	GlobalEpochName = "global_epoch"
	EvalStepName    = "eval_step"
)

// Node is a value-producing tensor or a side-effecting operation. Nodes are
// evaluated at most once per run.
type Node struct {
	graph *Graph
	name  string
	fn    func(*Frame) (any, error)
}

// Name returns the unique name of the node in its graph.
func (n *Node) Name() string {
	return n.name
}

func (n *Node) String() string {
	return n.name
}

// Graph is the construction context of one estimator call. Graphs are built
// fresh per call and never shared across calls.
type Graph struct {
	mu        sync.Mutex
	names     map[string]int
	variables []*Variable
	byName    map[string]*Variable
	iterators []*Iterator
	finalized bool
	inUse     atomic.Bool

	// GlobalStep counts training iterations. It is persisted.
	GlobalStep *Variable

	// GlobalEpoch counts completed passes over the training data. It is persisted.
	GlobalEpoch *Variable

	// EvalStep counts evaluation iterations. It is local and never restored.
	EvalStep *Variable
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		names:  make(map[string]int),
		byName: make(map[string]*Variable),
	}
}

func (g *Graph) uniqueName(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finalized {
		panic(fmt.Sprintf("ml: graph is finalized, cannot add %q", name))
	}

	n := g.names[name]
	g.names[name] = n + 1
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, n)
}

// NewNode adds a node whose value is computed by fn. Adding nodes to a
// finalized graph panics.
func (g *Graph) NewNode(name string, fn func(*Frame) (any, error)) *Node {
	return &Node{graph: g, name: g.uniqueName(name), fn: fn}
}

// Constant adds a node that always produces v.
func (g *Graph) Constant(name string, v any) *Node {
	return g.NewNode(name, func(*Frame) (any, error) {
		return v, nil
	})
}

// Group adds an operation that evaluates deps in order and produces nil.
func (g *Graph) Group(name string, deps ...*Node) *Node {
	return g.NewNode(name, func(f *Frame) (any, error) {
		for _, d := range deps {
			if d == nil {
				continue
			}
			if _, err := f.Eval(d); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

// NewVariable creates a variable, or returns the existing one with the same
// name.
func (g *Graph) NewVariable(name string, init *Array, opts ...VariableOption) *Variable {
	g.mu.Lock()
	if v, ok := g.byName[name]; ok {
		g.mu.Unlock()
		return v
	}
	g.mu.Unlock()

	v := &Variable{graph: g, name: name, init: init.Clone()}
	for _, opt := range opts {
		opt(v)
	}
	v.read = g.NewNode(name+"/read", v.readValue)

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.byName[name]; ok {
		return existing
	}
	g.variables = append(g.variables, v)
	g.byName[name] = v
	return v
}

// Variable looks up a variable by name.
func (g *Graph) Variable(name string) (*Variable, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.byName[name]
	return v, ok
}

// Variables returns all variables in creation order.
func (g *Graph) Variables() []*Variable {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Variable(nil), g.variables...)
}

// CreateGlobalStep creates or fetches the global step counter.
func (g *Graph) CreateGlobalStep() *Variable {
	if g.GlobalStep == nil {
		g.GlobalStep = g.NewVariable(GlobalStepName, Scalar(0))
	}
	return g.GlobalStep
}

// CreateGlobalEpoch creates or fetches the global epoch counter.
func (g *Graph) CreateGlobalEpoch() *Variable {
	if g.GlobalEpoch == nil {
		g.GlobalEpoch = g.NewVariable(GlobalEpochName, Scalar(0))
	}
	return g.GlobalEpoch
}

// CreateEvalStep creates or fetches the local evaluation step counter.
func (g *Graph) CreateEvalStep() *Variable {
	if g.EvalStep == nil {
		g.EvalStep = g.NewVariable(EvalStepName, Scalar(0), Local())
	}
	return g.EvalStep
}

// GlobalInitializer returns an operation assigning initial values to every
// persisted variable.
func (g *Graph) GlobalInitializer() *Node {
	return g.NewNode("init", func(f *Frame) (any, error) {
		for _, v := range g.Variables() {
			if !v.local {
				f.state.Set(v.name, v.init.Clone())
			}
		}
		return nil, nil
	})
}

// LocalInitializer returns an operation assigning initial values to every
// local variable.
func (g *Graph) LocalInitializer() *Node {
	return g.NewNode("local_init", func(f *Frame) (any, error) {
		for _, v := range g.Variables() {
			if v.local {
				f.state.Set(v.name, v.init.Clone())
			}
		}
		return nil, nil
	})
}

// Finalize forbids adding further nodes.
func (g *Graph) Finalize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finalized = true
}

// Finalized reports whether Finalize was called.
func (g *Graph) Finalized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalized
}

// Acquire marks the graph as bound to an open session.
func (g *Graph) Acquire() error {
	if !g.inUse.CompareAndSwap(false, true) {
		return ErrGraphInUse
	}
	return nil
}

// Release undoes Acquire.
func (g *Graph) Release() {
	g.inUse.Store(false)
}
