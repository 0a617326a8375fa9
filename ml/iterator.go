// iterator.go - Datenquellen und Iteratoren im Graph
//
// Enthaelt:
// - Dataset: Lazy, neu startbare Folge von Elementen
// - Iterator: Graph-Ressource, die ein Dataset Element fuer Element liefert
// - Epochs/CountEpochs: Optionen fuer wiederholte Durchlaeufe
package ml

import (
	"context"
	"fmt"
	"iter"
)

// Dataset produces a lazy sequence of elements. Every call to Elements
// starts a fresh pass over the data.
type Dataset interface {
	Elements(ctx context.Context) iter.Seq2[any, error]
}

// DatasetFunc adapts a function to Dataset.
type DatasetFunc func(ctx context.Context) iter.Seq2[any, error]

func (fn DatasetFunc) Elements(ctx context.Context) iter.Seq2[any, error] {
	return fn(ctx)
}

// Iterator yields the elements of the dataset bound by its initializer.
type Iterator struct {
	graph *Graph
	name  string
	next  *Node
}

// NewIterator adds an iterator resource to the graph.
func (g *Graph) NewIterator(name string) *Iterator {
	it := &Iterator{graph: g, name: g.uniqueName(name)}
	it.next = g.NewNode(it.name+"/next", it.getNext)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.iterators = append(g.iterators, it)
	return it
}

func (it *Iterator) Name() string {
	return it.name
}

type iteratorConfig struct {
	epochs  int
	counter *Variable
}

// IteratorOption configures an iterator initializer.
type IteratorOption func(*iteratorConfig)

// Epochs sets the number of passes over the data. n <= 0 repeats
// indefinitely. The default is a single pass.
func Epochs(n int) IteratorOption {
	return func(c *iteratorConfig) {
		c.epochs = n
	}
}

// CountEpochs increments counter whenever a pass completes.
func CountEpochs(counter *Variable) IteratorOption {
	return func(c *iteratorConfig) {
		c.counter = counter
	}
}

// Initializer returns an operation binding ds to the iterator. Running it
// again restarts from a fresh pass.
func (it *Iterator) Initializer(ds Dataset, opts ...IteratorOption) *Node {
	cfg := iteratorConfig{epochs: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	return it.graph.NewNode(it.name+"/init", func(f *Frame) (any, error) {
		st := &iteratorState{ctx: f.ctx, ds: ds, cfg: cfg}
		st.start()
		f.state.bind(it, st)
		return nil, nil
	})
}

// Next returns the node producing the next element. Within one run all
// consumers observe the same element.
func (it *Iterator) Next() *Node {
	return it.next
}

func (it *Iterator) getNext(f *Frame) (any, error) {
	st := f.state.iterator(it)
	if st == nil {
		return nil, fmt.Errorf("%w: iterator %s is not initialized", ErrFailedPrecondition, it.name)
	}

	for {
		if st.done {
			return nil, fmt.Errorf("%w: end of %s", ErrOutOfRange, it.name)
		}

		v, err, ok := st.pull()
		if ok {
			if err != nil {
				return nil, err
			}
			st.yielded = true
			return v, nil
		}

		st.release()
		st.passes++
		if c := st.cfg.counter; c != nil {
			f.state.Add(c.name, 1)
		}

		// an empty pass must not spin forever when repeating indefinitely
		if !st.yielded || (st.cfg.epochs > 0 && st.passes >= st.cfg.epochs) {
			st.done = true
			continue
		}
		st.start()
	}
}

type iteratorState struct {
	ctx     context.Context
	ds      Dataset
	cfg     iteratorConfig
	pull    func() (any, error, bool)
	stop    func()
	passes  int
	yielded bool
	done    bool
}

func (st *iteratorState) start() {
	st.yielded = false
	st.pull, st.stop = iter.Pull2(st.ds.Elements(st.ctx))
}

func (st *iteratorState) release() {
	if st.stop != nil {
		st.stop()
		st.stop = nil
	}
}
