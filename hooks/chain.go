// Package hooks - Geordnete Hook-Kette
//
// Dieses Modul enthaelt Chain:
// - NewChain: Allgemeine Hooks plus Chief-Hooks, nur auf dem Chief aktiv
// - Alle Callbacks laufen in Einfuegereihenfolge, auch AfterRun und End
// - Step: Fuehrt einen Schritt mit BeforeRun/AfterRun aus
package hooks

import (
	"context"
	"errors"

	"github.com/ollama/estimator/ml"
)

// Chain invokes hooks in insertion order.
type Chain struct {
	hooks []Hook
}

// NewChain combines general hooks with chief-only hooks. Chief-only hooks
// are dropped on workers.
func NewChain(general, chiefOnly []Hook, isChief bool) *Chain {
	c := &Chain{}
	for _, h := range general {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
	if isChief {
		for _, h := range chiefOnly {
			if h != nil {
				c.hooks = append(c.hooks, h)
			}
		}
	}
	return c
}

// Hooks returns the hooks in invocation order.
func (c *Chain) Hooks() []Hook {
	return append([]Hook(nil), c.hooks...)
}

func (c *Chain) Len() int {
	return len(c.hooks)
}

// Begin calls Begin on every hook and stops at the first error.
func (c *Chain) Begin(g *ml.Graph) error {
	for _, h := range c.hooks {
		if err := h.Begin(g); err != nil {
			return failed(h, "Begin", err)
		}
	}
	return nil
}

// AfterCreateSession notifies hooks implementing SessionCreatedHook.
func (c *Chain) AfterCreateSession(ctx context.Context, s ml.Session) error {
	for _, h := range c.hooks {
		if sc, ok := h.(SessionCreatedHook); ok {
			if err := sc.AfterCreateSession(ctx, s); err != nil {
				return failed(h, "AfterCreateSession", err)
			}
		}
	}
	return nil
}

// Step runs one step of s with the fetches of all hooks merged in. It
// returns the values of fetches and whether a hook requested stop. Errors
// of the raw session are returned unchanged; hook errors wrap ErrHookFailed.
func (c *Chain) Step(ctx context.Context, s ml.Session, fetches []*ml.Node, targets ...*ml.Node) ([]any, bool, error) {
	rc := NewRunContext(ctx, s, fetches)

	merged := append([]*ml.Node(nil), fetches...)
	bounds := make([][2]int, len(c.hooks))
	for i, h := range c.hooks {
		args, err := h.BeforeRun(rc)
		if err != nil {
			return nil, false, failed(h, "BeforeRun", err)
		}
		bounds[i] = [2]int{len(merged), len(merged) + len(args.Fetches)}
		merged = append(merged, args.Fetches...)
	}

	values, err := s.Run(ctx, merged, targets...)
	if err != nil {
		return nil, false, err
	}

	for i, h := range c.hooks {
		b := bounds[i]
		if err := h.AfterRun(rc, RunValues{Results: values[b[0]:b[1]]}); err != nil {
			return nil, rc.StopRequested(), failed(h, "AfterRun", err)
		}
	}

	return values[:len(fetches)], rc.StopRequested(), nil
}

// End calls End on every hook. All hooks run even if one fails.
func (c *Chain) End(ctx context.Context, s ml.Session) error {
	var errs []error
	for _, h := range c.hooks {
		if err := h.End(ctx, s); err != nil {
			errs = append(errs, failed(h, "End", err))
		}
	}
	return errors.Join(errs...)
}
