// Package model - Model-Interface und Registry
//
// Dieses Paket definiert die Schnittstelle zwischen Estimator und Modell.
//
// Hauptkomponenten:
// - Model: Baut die Operationen fuer Training, Inferenz und Evaluation
// - TrainOps/InferOps/EvalOps: Operations-Buendel der drei Modi
// - Func: Modell-Konstruktor aus einer Config
// - Register/New: Registry der Modell-Konstruktoren
package model

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/ollama/estimator/metrics"
	"github.com/ollama/estimator/ml"
)

// Fehler-Definitionen
var (
	ErrUnsupportedModel = errors.New("model not supported")
)

// Model builds the graph operations of the three modes. Every call receives
// a fresh graph; builders must not retain nodes across calls.
type Model interface {
	BuildTrainingOps(g *ml.Graph) (TrainOps, error)
	BuildInferenceOps(g *ml.Graph) (InferOps, error)
	BuildEvaluationOps(g *ml.Graph, ms []metrics.Metric) (EvalOps, error)
}

// TrainOps are the training operations. TrainOp updates the model
// variables once; it must not increment the global step.
type TrainOps struct {
	Input   *ml.Iterator
	Loss    *ml.Node
	TrainOp *ml.Node

	// Summaries are scalar nodes written by the summary saver.
	Summaries map[string]*ml.Node
}

// InferOps are the inference operations. Output is fetched once per
// element of Input.
type InferOps struct {
	Input  *ml.Iterator
	Output ml.Fetchable
}

// EvalOps hold one metric bundle per requested metric, in request order.
type EvalOps struct {
	Input   *ml.Iterator
	Metrics []metrics.Ops
}

// Validator ist ein optionales Interface fuer Validierung nach dem Erstellen
type Validator interface {
	Validate() error
}

// Func creates a model from its configuration. It may be called once per
// estimator call.
type Func func(Config) (Model, error)

var (
	modelsMu sync.Mutex
	models   = make(map[string]Func)
)

// Register registriert einen Modell-Konstruktor
func Register(name string, f Func) {
	modelsMu.Lock()
	defer modelsMu.Unlock()

	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// Lookup returns the constructor registered as name.
func Lookup(name string) (Func, error) {
	modelsMu.Lock()
	defer modelsMu.Unlock()

	f, ok := models[name]
	if !ok {
		if closest := closestName(name); closest != "" {
			return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnsupportedModel, name, closest)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, name)
	}
	return Validated(f), nil
}

// closestName sucht den aehnlichsten registrierten Namen. Caller haelt modelsMu.
func closestName(name string) string {
	var closest string
	score := math.MaxInt
	for candidate := range models {
		d := levenshtein.ComputeDistance(name, candidate)
		if d < score || (d == score && candidate < closest) {
			score, closest = d, candidate
		}
	}
	// Nur Tippfehler vorschlagen
	if score > max(2, len(name)/3) {
		return ""
	}
	return closest
}

// New creates the model registered as name.
func New(name string, c Config) (Model, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return f(c)
}

// Validated wraps f so models implementing Validator are checked.
func Validated(f Func) Func {
	return func(c Config) (Model, error) {
		m, err := f(c)
		if err != nil {
			return nil, err
		}
		if v, ok := m.(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, err
			}
		}
		return m, nil
	}
}

// Names lists the registered models.
func Names() []string {
	modelsMu.Lock()
	defer modelsMu.Unlock()

	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
