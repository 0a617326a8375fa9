// Package estimator - Train/Infer/Evaluate-Orchestrierung
//
// Dieses Paket verbindet Modell, Graph, Session, Hooks und Checkpoints:
// - Estimator: Fassade mit Konfiguration, Modell-Konstruktor und Default-Hooks
// - Train/TrainWithHooks: Trainingsschleife mit Checkpoints und Summaries
// - Infer/InferAll/InferWithHooks: Lazy Vorhersagen aus einem Checkpoint
// - Evaluate/EvaluateWithHooks/EvaluateContinuously: Metriken gegen Checkpoints
//
// Jeder Aufruf baut einen frischen Graphen und oeffnet genau eine Session.
package estimator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/hooks"
	"github.com/ollama/estimator/ml"
	_ "github.com/ollama/estimator/ml/backend"
	"github.com/ollama/estimator/model"
)

// Fehler-Definitionen
var (
	// ErrCheckpointNotFound is returned by Infer and Evaluate when no
	// checkpoint can be restored. No graph is executed.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrInvalidArgument reports arguments rejected before a session opens.
	ErrInvalidArgument = ml.ErrInvalidArgument

	// ErrConsumed is yielded when a prediction sequence is iterated twice.
	ErrConsumed = errors.New("predictions already consumed")
)

// Estimator trains, evaluates and infers with one model. Its methods may
// be called repeatedly; calls must not overlap when they share hooks.
type Estimator struct {
	config  Configuration
	modelFn model.Func

	hooks          []hooks.Hook
	chiefOnlyHooks []hooks.Hook
	evalHooks      []hooks.Hook
	inferHooks     []hooks.Hook
	board          *TensorBoardConfig
}

// Option configures the defaults of an Estimator.
type Option func(*Estimator)

// WithHooks sets the training hooks used when a call passes none.
func WithHooks(general, chiefOnly []hooks.Hook) Option {
	return func(e *Estimator) {
		e.hooks, e.chiefOnlyHooks = general, chiefOnly
	}
}

// WithEvalHooks sets the evaluation hooks used when a call passes none.
func WithEvalHooks(hs ...hooks.Hook) Option {
	return func(e *Estimator) {
		e.evalHooks = hs
	}
}

// WithInferHooks sets the inference hooks used when a call passes none.
func WithInferHooks(hs ...hooks.Hook) Option {
	return func(e *Estimator) {
		e.inferHooks = hs
	}
}

// WithTensorBoard serves the work dir during training.
func WithTensorBoard(c TensorBoardConfig) Option {
	return func(e *Estimator) {
		e.board = &c
	}
}

// New creates an estimator. Empty configuration fields are filled from
// DefaultConfiguration.
func New(c Configuration, fn model.Func, opts ...Option) (*Estimator, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: model function is nil", ErrInvalidArgument)
	}

	c = c.Merge(DefaultConfiguration())
	if err := c.Validate(); err != nil {
		return nil, err
	}

	e := &Estimator{config: c, modelFn: model.Validated(fn)}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewFromRegistry creates an estimator for the model registered as
// c.Model.Name.
func NewFromRegistry(c Configuration, opts ...Option) (*Estimator, error) {
	fn, err := model.Lookup(c.Model.Name)
	if err != nil {
		return nil, err
	}
	return New(c, fn, opts...)
}

// Config returns the configuration.
func (e *Estimator) Config() Configuration {
	return e.config
}

func (e *Estimator) newModel() (model.Model, error) {
	return e.modelFn(e.config.modelConfig())
}

func (e *Estimator) backend() (ml.Backend, error) {
	return ml.NewBackend(e.config.Session.Backend)
}

func (e *Estimator) saver() *checkpoint.Saver {
	return &checkpoint.Saver{
		Dir:       e.config.WorkDir,
		MaxToKeep: e.config.Checkpoint.MaxToKeep,
		DType:     e.config.dtype(),
	}
}

// checkpointPath resolves the checkpoint for infer and evaluate: the
// explicit path if given, else the latest one in the work dir.
func (e *Estimator) checkpointPath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %w", ErrCheckpointNotFound, err)
		}
		return path, nil
	}

	if latest, ok := checkpoint.Latest(e.config.WorkDir); ok {
		return latest, nil
	}
	return "", fmt.Errorf("%w: no checkpoint in %q", ErrCheckpointNotFound, e.config.WorkDir)
}

// newGraph returns a fresh graph with the global step.
func newGraph() *ml.Graph {
	g := ml.NewGraph()
	g.CreateGlobalStep()
	return g
}

func orDefault(hs, defaults []hooks.Hook) []hooks.Hook {
	if hs == nil {
		return defaults
	}
	return hs
}

func logger() *slog.Logger {
	return slog.Default().With("component", "estimator")
}
