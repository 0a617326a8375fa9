// Package estimator - Konfiguration und Stopp-Kriterien
//
// Dieses Modul enthaelt:
// - Configuration: Unveraenderliche Laufzeit-Konfiguration eines Estimators
// - DefaultConfiguration: Defaults aus den ESTIMATOR_* Umgebungsvariablen
// - LoadConfiguration: YAML-Konfigurationsdatei laden
// - Merge/Validate: Leere Felder auffuellen und pruefen
// - StopCriteria: Wann das Training endet
package estimator

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ollama/estimator/envconfig"
	"github.com/ollama/estimator/ml"
	"github.com/ollama/estimator/model"
)

// Role is the part a process plays in a replicated run.
type Role string

const (
	Chief  Role = "chief"
	Worker Role = "worker"
)

// SessionConfig selects the execution backend.
type SessionConfig struct {
	Backend    string `yaml:"backend"`
	TraceNodes bool   `yaml:"trace_nodes"`
}

// CheckpointConfig controls checkpoint saving and retention.
type CheckpointConfig struct {
	SaveSteps int64         `yaml:"save_steps"`
	SaveSecs  time.Duration `yaml:"save_secs"`
	MaxToKeep int           `yaml:"max_to_keep"`
	DType     string        `yaml:"dtype"`
}

// Configuration is the read-only configuration of an estimator.
type Configuration struct {
	WorkDir string `yaml:"work_dir"`
	Master  string `yaml:"master"`
	Role    Role   `yaml:"role"`

	Session    SessionConfig    `yaml:"session"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	SummarySteps int64 `yaml:"summary_steps"`
	LogSteps     int64 `yaml:"log_steps"`
	RandomSeed   int64 `yaml:"random_seed"`

	Model model.Config `yaml:"model"`
}

// DefaultConfiguration reads the defaults from the environment.
func DefaultConfiguration() Configuration {
	return Configuration{
		WorkDir: envconfig.WorkDir(),
		Master:  envconfig.Master(),
		Role:    Role(envconfig.Role()),
		Session: SessionConfig{
			Backend:    cmp.Or(envconfig.Backend(), ml.DefaultBackend),
			TraceNodes: envconfig.TraceNodes(),
		},
		Checkpoint: CheckpointConfig{
			SaveSteps: int64(envconfig.SaveSteps()),
			SaveSecs:  envconfig.SaveSecs(),
			MaxToKeep: int(envconfig.KeepCheckpoints()),
			DType:     cmp.Or(envconfig.CheckpointDType(), ml.DTypeF32.String()),
		},
		SummarySteps: int64(envconfig.SummarySteps()),
		LogSteps:     int64(envconfig.LogSteps()),
		RandomSeed:   envconfig.RandomSeed(),
	}
}

// LoadConfiguration reads a YAML configuration file and fills every field
// it leaves empty from DefaultConfiguration.
func LoadConfiguration(path string) (Configuration, error) {
	bts, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	var c Configuration
	dec := yaml.NewDecoder(bytes.NewReader(bts))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Configuration{}, fmt.Errorf("%w: %s: %w", ErrInvalidArgument, path, err)
	}

	c = c.Merge(DefaultConfiguration())
	if err := c.Validate(); err != nil {
		return Configuration{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Merge returns c with every zero field taken from base.
func (c Configuration) Merge(base Configuration) Configuration {
	c.WorkDir = cmp.Or(c.WorkDir, base.WorkDir)
	c.Master = cmp.Or(c.Master, base.Master)
	c.Role = cmp.Or(c.Role, base.Role)

	c.Session.Backend = cmp.Or(c.Session.Backend, base.Session.Backend)
	c.Session.TraceNodes = c.Session.TraceNodes || base.Session.TraceNodes

	c.Checkpoint.SaveSteps = cmp.Or(c.Checkpoint.SaveSteps, base.Checkpoint.SaveSteps)
	c.Checkpoint.SaveSecs = cmp.Or(c.Checkpoint.SaveSecs, base.Checkpoint.SaveSecs)
	c.Checkpoint.MaxToKeep = cmp.Or(c.Checkpoint.MaxToKeep, base.Checkpoint.MaxToKeep)
	c.Checkpoint.DType = cmp.Or(c.Checkpoint.DType, base.Checkpoint.DType)

	c.SummarySteps = cmp.Or(c.SummarySteps, base.SummarySteps)
	c.LogSteps = cmp.Or(c.LogSteps, base.LogSteps)
	c.RandomSeed = cmp.Or(c.RandomSeed, base.RandomSeed)

	c.Model.Name = cmp.Or(c.Model.Name, base.Model.Name)
	if c.Model.Params == nil {
		c.Model.Params = base.Model.Params
	}
	return c
}

// Validate checks the configuration for values no component accepts.
func (c Configuration) Validate() error {
	var errs []error
	switch c.Role {
	case "", Chief, Worker:
	default:
		errs = append(errs, fmt.Errorf("role must be %q or %q, got %q", Chief, Worker, c.Role))
	}

	if c.Checkpoint.DType != "" {
		if _, ok := ml.ParseDType(c.Checkpoint.DType); !ok {
			errs = append(errs, fmt.Errorf("unknown checkpoint dtype %q", c.Checkpoint.DType))
		}
	}

	for _, f := range []struct {
		name  string
		value int64
	}{
		{"checkpoint.save_steps", c.Checkpoint.SaveSteps},
		{"checkpoint.save_secs", int64(c.Checkpoint.SaveSecs)},
		{"checkpoint.max_to_keep", int64(c.Checkpoint.MaxToKeep)},
		{"summary_steps", c.SummarySteps},
		{"log_steps", c.LogSteps},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

// IsChief reports whether this process performs the chief's side effects:
// checkpoints, summaries and the board.
func (c Configuration) IsChief() bool {
	return c.Role != Worker
}

func (c Configuration) modelConfig() model.Config {
	mc := c.Model
	mc.RandomSeed = c.RandomSeed
	return mc
}

func (c Configuration) sessionConfig() ml.SessionConfig {
	return ml.SessionConfig{Master: c.Master, TraceNodes: c.Session.TraceNodes}
}

func (c Configuration) dtype() ml.DType {
	d, _ := ml.ParseDType(c.Checkpoint.DType)
	return d
}

// StopCriteria bound a training call.
type StopCriteria struct {
	// MaxSteps is the global step to train to, or the number of steps of
	// this call when RestartCounting is set. Zero trains until another
	// criterion stops.
	MaxSteps int64

	// MaxDuration bounds the wall time of the call.
	MaxDuration time.Duration

	RestartCounting bool

	// MaxEpochs is the number of passes over the data. Zero makes one
	// pass, a negative value repeats the data indefinitely.
	MaxEpochs int
}

// epochs maps MaxEpochs onto ml.Epochs, where zero repeats.
func (c StopCriteria) epochs() int {
	switch {
	case c.MaxEpochs == 0:
		return 1
	case c.MaxEpochs < 0:
		return 0
	}
	return c.MaxEpochs
}
