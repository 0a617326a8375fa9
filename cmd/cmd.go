// cmd.go - Haupt-CLI und gemeinsame Hilfsfunktionen
// Hauptfunktionen: NewCLI, appendEnvDocs, loadEstimator
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ollama/estimator/envconfig"
	"github.com/ollama/estimator/estimator"
	"github.com/ollama/estimator/logutil"
	_ "github.com/ollama/estimator/model/models/linear"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-28s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "estimator",
		Short:         "Train, evaluate and serve models from checkpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringP("workdir", "w", "", "Directory for checkpoints and summaries (overrides the configuration)")

	// Commands erstellen
	trainCmd := newTrainCmd()
	evalCmd := newEvalCmd()
	inferCmd := newInferCmd()
	boardCmd := newBoardCmd()
	checkpointsCmd := newCheckpointsCmd()
	runsCmd := newRunsCmd()
	envCmd := newEnvCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["ESTIMATOR_WORKDIR"], envVars["ESTIMATOR_DEBUG"]}

	for _, cmd := range []*cobra.Command{
		trainCmd,
		evalCmd,
		inferCmd,
		boardCmd,
		checkpointsCmd,
		runsCmd,
	} {
		switch cmd {
		case trainCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["ESTIMATOR_DEBUG"],
				envVars["ESTIMATOR_WORKDIR"],
				envVars["ESTIMATOR_MASTER"],
				envVars["ESTIMATOR_ROLE"],
				envVars["ESTIMATOR_BACKEND"],
				envVars["ESTIMATOR_SAVE_STEPS"],
				envVars["ESTIMATOR_SAVE_SECS"],
				envVars["ESTIMATOR_KEEP_CHECKPOINTS"],
				envVars["ESTIMATOR_CHECKPOINT_DTYPE"],
				envVars["ESTIMATOR_SUMMARY_STEPS"],
				envVars["ESTIMATOR_LOG_STEPS"],
				envVars["ESTIMATOR_RANDOM_SEED"],
				envVars["ESTIMATOR_BOARD_HOST"],
			})
		case boardCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["ESTIMATOR_DEBUG"],
				envVars["ESTIMATOR_WORKDIR"],
				envVars["ESTIMATOR_BOARD_HOST"],
				envVars["ESTIMATOR_ORIGINS"],
			})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		trainCmd,
		evalCmd,
		inferCmd,
		boardCmd,
		checkpointsCmd,
		runsCmd,
		envCmd,
	)

	return rootCmd
}

// loadConfiguration - Liest --config und --workdir
func loadConfiguration(cmd *cobra.Command) (estimator.Configuration, error) {
	c := estimator.DefaultConfiguration()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if c, err = estimator.LoadConfiguration(path); err != nil {
			return estimator.Configuration{}, err
		}
	}

	if dir, _ := cmd.Flags().GetString("workdir"); dir != "" {
		c.WorkDir = dir
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		c.Model.Name = model
	}
	if c.Model.Name == "" {
		c.Model.Name = "linear"
	}
	return c, nil
}

// loadEstimator - Erstellt den Estimator fuer das konfigurierte Modell
func loadEstimator(cmd *cobra.Command, opts ...estimator.Option) (*estimator.Estimator, error) {
	c, err := loadConfiguration(cmd)
	if err != nil {
		return nil, err
	}
	return estimator.NewFromRegistry(c, opts...)
}

// workDir - Arbeitsverzeichnis aus Flags, Konfiguration oder Umgebung
func workDir(cmd *cobra.Command) (string, error) {
	c, err := loadConfiguration(cmd)
	if err != nil {
		return "", err
	}
	if c.WorkDir == "" {
		return "", fmt.Errorf("no work dir: use --workdir or set ESTIMATOR_WORKDIR")
	}
	if _, err := os.Stat(c.WorkDir); err != nil {
		return "", err
	}
	return c.WorkDir, nil
}
