// variable.go - Persistierte und lokale Variablen
//
// Enthaelt:
// - Variable: Benannter Zustand im Variablen-Speicher der Session
// - Local: Option fuer lokale (nicht persistierte) Variablen
// - Value/Assign/AssignAdd/Update: Lese- und Schreib-Operationen
package ml

import "fmt"

// VariableOption configures a variable at creation.
type VariableOption func(*Variable)

// Local marks a variable as local: it is initialized by the local
// initializer, never saved to and never restored from a checkpoint.
func Local() VariableOption {
	return func(v *Variable) {
		v.local = true
	}
}

// Variable is named state held by a session's variable storage.
type Variable struct {
	graph *Graph
	name  string
	init  *Array
	local bool
	read  *Node
}

func (v *Variable) Name() string {
	return v.name
}

func (v *Variable) Local() bool {
	return v.local
}

// Initial returns a copy of the initial value.
func (v *Variable) Initial() *Array {
	return v.init.Clone()
}

// Value returns the node reading the variable. The read is memoized per run.
func (v *Variable) Value() *Node {
	return v.read
}

func (v *Variable) readValue(f *Frame) (any, error) {
	a, ok := f.state.Get(v.name)
	if !ok {
		return nil, fmt.Errorf("%w: variable %s is not initialized", ErrFailedPrecondition, v.name)
	}
	return a.Clone(), nil
}

// Assign returns an operation storing the value of src. It produces the
// stored value.
func (v *Variable) Assign(src *Node) *Node {
	return v.graph.NewNode(v.name+"/assign", func(f *Frame) (any, error) {
		val, err := f.Eval(src)
		if err != nil {
			return nil, err
		}
		a, err := AsArray(val)
		if err != nil {
			return nil, err
		}
		f.state.Set(v.name, a.Clone())
		return a, nil
	})
}

// AssignAdd returns an operation adding delta to an int64 counter. It
// produces the new value.
func (v *Variable) AssignAdd(delta int64) *Node {
	return v.graph.NewNode(v.name+"/assign_add", func(f *Frame) (any, error) {
		a, ok := f.state.Add(v.name, delta)
		if !ok {
			return nil, fmt.Errorf("%w: variable %s is not initialized", ErrFailedPrecondition, v.name)
		}
		return a, nil
	})
}

// Update returns an operation replacing the current value by fn(current).
func (v *Variable) Update(name string, fn func(f *Frame, current *Array) (*Array, error)) *Node {
	return v.graph.NewNode(v.name+"/"+name, func(f *Frame) (any, error) {
		cur, ok := f.state.Get(v.name)
		if !ok {
			return nil, fmt.Errorf("%w: variable %s is not initialized", ErrFailedPrecondition, v.name)
		}
		next, err := fn(f, cur.Clone())
		if err != nil {
			return nil, err
		}
		f.state.Set(v.name, next)
		return next, nil
	})
}
