// config_features.go - Intervalle fuer Checkpoints, Summaries und Logging
//
// Dieses Modul enthaelt:
// - Checkpoint-Einstellungen (Intervalle, Aufbewahrung, Speicherformat)
// - Summary- und Logging-Intervalle
// - Backend-Auswahl
package envconfig

import "time"

// =============================================================================
// Checkpoint-Einstellungen
// =============================================================================

var (
	// SaveSteps speichert alle N globalen Schritte einen Checkpoint (0 = aus)
	SaveSteps = Uint("ESTIMATOR_SAVE_STEPS", 0)

	// SaveSecs speichert in diesem Zeitabstand einen Checkpoint
	SaveSecs = Duration("ESTIMATOR_SAVE_SECS", 10*time.Minute)

	// KeepCheckpoints ist die maximale Anzahl aufbewahrter Checkpoints (0 = alle)
	KeepCheckpoints = Uint("ESTIMATOR_KEEP_CHECKPOINTS", 5)

	// CheckpointDType ist das Speicherformat fuer Gleitkomma-Variablen (f32, f16, bf16)
	CheckpointDType = String("ESTIMATOR_CHECKPOINT_DTYPE")
)

// =============================================================================
// Summary- und Logging-Intervalle
// =============================================================================

var (
	// SummarySteps schreibt alle N Schritte Summaries (0 = aus)
	SummarySteps = Uint("ESTIMATOR_SUMMARY_STEPS", 100)

	// LogSteps loggt alle N Schritte den Loss (0 = aus)
	LogSteps = Uint("ESTIMATOR_LOG_STEPS", 100)

	// RandomSeed initialisiert die Zufallszahlen des Modells
	RandomSeed = Int64("ESTIMATOR_RANDOM_SEED", 0)
)

// =============================================================================
// Backend-Auswahl
// =============================================================================

var (
	// Backend ueberschreibt das Ausfuehrungs-Backend
	Backend = String("ESTIMATOR_BACKEND")

	// TraceNodes loggt jede Knoten-Auswertung auf TRACE-Level
	TraceNodes = Bool("ESTIMATOR_TRACE_NODES")
)
