// fetch.go - Strukturierte Fetch-Ergebnisse
//
// Enthaelt:
// - Fetchable: Knotenmenge plus Dekodierung zurueck in die Struktur des Aufrufers
// - FetchMap: Benannte Fetches, dekodiert zu map[string]any
// - Tuple: Positionelle Fetches, dekodiert zu []any
package ml

import (
	"fmt"
	"slices"
)

// Fetchable is a structure of nodes fetched together. Decode receives one
// value per node in the order returned by Nodes.
type Fetchable interface {
	Nodes() []*Node
	Decode(values []any) (any, error)
}

func (n *Node) Nodes() []*Node {
	return []*Node{n}
}

func (n *Node) Decode(values []any) (any, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %s expects one value, got %d", ErrInvalidArgument, n.name, len(values))
	}
	return values[0], nil
}

// FetchMap fetches nodes by key. Keys are decoded in sorted order.
type FetchMap map[string]*Node

func (m FetchMap) keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m FetchMap) Nodes() []*Node {
	keys := m.keys()
	nodes := make([]*Node, len(keys))
	for i, k := range keys {
		nodes[i] = m[k]
	}
	return nodes
}

func (m FetchMap) Decode(values []any) (any, error) {
	keys := m.keys()
	if len(values) != len(keys) {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInvalidArgument, len(keys), len(values))
	}

	out := make(map[string]any, len(keys))
	for i, k := range keys {
		out[k] = values[i]
	}
	return out, nil
}

// Tuple fetches nodes by position.
type Tuple []*Node

func (t Tuple) Nodes() []*Node {
	return t
}

func (t Tuple) Decode(values []any) (any, error) {
	if len(values) != len(t) {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInvalidArgument, len(t), len(values))
	}
	return slices.Clone(values), nil
}
