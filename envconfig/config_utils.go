// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Int64: Integer-Getter mit Default-Wert
// - Duration: Dauer-Getter (Go-Dauer oder Sekunden)
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer- und Dauer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Int64 gibt eine Funktion zurueck, die einen int64 mit Default-Wert liest
func Int64(key string, defaultValue int64) func() int64 {
	return func() int64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// Duration gibt eine Funktion zurueck, die eine Dauer liest
// Akzeptiert Go-Dauern ("90s") oder ganze Sekunden ("90")
func Duration(key string, defaultValue time.Duration) func() time.Duration {
	return func() time.Duration {
		if s := Var(key); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				return d
			} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return time.Duration(n) * time.Second
			}
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"ESTIMATOR_DEBUG":             {"ESTIMATOR_DEBUG", LogLevel(), "Show additional debug information (e.g. ESTIMATOR_DEBUG=1)"},
		"ESTIMATOR_WORKDIR":           {"ESTIMATOR_WORKDIR", WorkDir(), "Directory for checkpoints and summaries"},
		"ESTIMATOR_MASTER":            {"ESTIMATOR_MASTER", Master(), "Address of the coordinating master (empty for local execution)"},
		"ESTIMATOR_ROLE":              {"ESTIMATOR_ROLE", Role(), "Role of this process: chief or worker (default: chief)"},
		"ESTIMATOR_BACKEND":           {"ESTIMATOR_BACKEND", Backend(), "Execution backend (default: eager)"},
		"ESTIMATOR_TRACE_NODES":       {"ESTIMATOR_TRACE_NODES", TraceNodes(), "Log every node evaluation at trace level"},
		"ESTIMATOR_SAVE_STEPS":        {"ESTIMATOR_SAVE_STEPS", SaveSteps(), "Save a checkpoint every N global steps (0 disables)"},
		"ESTIMATOR_SAVE_SECS":         {"ESTIMATOR_SAVE_SECS", SaveSecs(), "Save a checkpoint at this interval (default \"10m\")"},
		"ESTIMATOR_KEEP_CHECKPOINTS":  {"ESTIMATOR_KEEP_CHECKPOINTS", KeepCheckpoints(), "Maximum number of checkpoints to keep (default: 5)"},
		"ESTIMATOR_CHECKPOINT_DTYPE":  {"ESTIMATOR_CHECKPOINT_DTYPE", CheckpointDType(), "Storage type for float variables: f32, f16 or bf16 (default: f32)"},
		"ESTIMATOR_SUMMARY_STEPS":     {"ESTIMATOR_SUMMARY_STEPS", SummarySteps(), "Write summaries every N steps (default: 100)"},
		"ESTIMATOR_LOG_STEPS":         {"ESTIMATOR_LOG_STEPS", LogSteps(), "Log the loss every N steps (default: 100)"},
		"ESTIMATOR_RANDOM_SEED":       {"ESTIMATOR_RANDOM_SEED", RandomSeed(), "Seed for model initialization (default: 0)"},
		"ESTIMATOR_BOARD_HOST":        {"ESTIMATOR_BOARD_HOST", BoardHost(), "Address for the board server (default 127.0.0.1:6006)"},
		"ESTIMATOR_ORIGINS":           {"ESTIMATOR_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins for the board server"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
