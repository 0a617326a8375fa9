package eager

import (
	"context"
	"errors"
	"testing"

	"github.com/ollama/estimator/ml"
)

func finalizedGraph(t *testing.T) (*ml.Graph, *ml.Node, *ml.Node) {
	t.Helper()
	g := ml.NewGraph()
	step := g.CreateGlobalStep()
	inc := step.AssignAdd(1)
	init := g.GlobalInitializer()
	g.Finalize()
	return g, inc, init
}

func TestRunTargetsBeforeFetches(t *testing.T) {
	g, inc, init := finalizedGraph(t)
	b, _ := New()
	s, err := b.NewSession(g, ml.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Run(t.Context(), nil, init); err != nil {
		t.Fatal(err)
	}

	out, err := s.Run(t.Context(), []*ml.Node{g.GlobalStep.Value()}, inc)
	if err != nil {
		t.Fatal(err)
	}
	a, err := ml.AsArray(out[0])
	if err != nil {
		t.Fatal(err)
	}
	if a.Int() != 1 {
		t.Errorf("global_step: erwartet 1, bekommen %d", a.Int())
	}
}

func TestUnreachableMaster(t *testing.T) {
	g, _, _ := finalizedGraph(t)
	b, _ := New()
	_, err := b.NewSession(g, ml.SessionConfig{Master: "grpc://10.0.0.1:2222"})
	if !errors.Is(err, ml.ErrUnavailable) {
		t.Errorf("erwartet ErrUnavailable, bekommen %v", err)
	}
}

func TestUnfinalizedGraph(t *testing.T) {
	g := ml.NewGraph()
	b, _ := New()
	if _, err := b.NewSession(g, ml.SessionConfig{}); !errors.Is(err, ml.ErrFailedPrecondition) {
		t.Errorf("erwartet ErrFailedPrecondition, bekommen %v", err)
	}
}

func TestRunAfterClose(t *testing.T) {
	g, inc, _ := finalizedGraph(t)
	b, _ := New()
	s, _ := b.NewSession(g, ml.SessionConfig{})

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("zweites Close: %v", err)
	}
	if _, err := s.Run(t.Context(), nil, inc); !errors.Is(err, ml.ErrSessionClosed) {
		t.Errorf("erwartet ErrSessionClosed, bekommen %v", err)
	}
}

func TestRunCanceledContext(t *testing.T) {
	g, inc, _ := finalizedGraph(t)
	b, _ := New()
	s, _ := b.NewSession(g, ml.SessionConfig{})
	defer s.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := s.Run(ctx, nil, inc); !errors.Is(err, context.Canceled) {
		t.Errorf("erwartet context.Canceled, bekommen %v", err)
	}
}

func TestRegistered(t *testing.T) {
	b, err := ml.NewBackend("")
	if err != nil {
		t.Fatal(err)
	}
	if b.Name() != "eager" {
		t.Errorf("Name: erwartet eager, bekommen %s", b.Name())
	}
}
