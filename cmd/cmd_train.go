// cmd_train.go - Training und Evaluation
// Hauptfunktionen: TrainHandler, EvalHandler, csvData
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/estimator/dataset"
	"github.com/ollama/estimator/estimator"
	"github.com/ollama/estimator/metrics"
	"github.com/ollama/estimator/ml"
)

// addDataFlags - Gemeinsame Flags fuer CSV-Daten
func addDataFlags(cmd *cobra.Command) {
	cmd.Flags().String("data", "", "CSV file with features and a label column")
	cmd.Flags().Int("batch-size", 32, "Number of examples per step")
	cmd.Flags().Bool("header", false, "Skip the first CSV record")
	cmd.Flags().Int("label-column", -1, "Index of the label column (negative selects the last)")
	cmd.Flags().String("model", "", "Registered model name (default from configuration, else linear)")
	_ = cmd.MarkFlagRequired("data")
}

// csvData - Liest die CSV-Flags; --batch-size <= 0 liefert einzelne Beispiele
func csvData(cmd *cobra.Command, noLabel bool) (ml.Dataset, error) {
	path, _ := cmd.Flags().GetString("data")
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	header, _ := cmd.Flags().GetBool("header")
	label, _ := cmd.Flags().GetInt("label-column")
	ds := dataset.ReadCSV(path, dataset.CSVOptions{Header: header, LabelColumn: label, NoLabel: noLabel})

	size, _ := cmd.Flags().GetInt("batch-size")
	if size <= 0 {
		return ds, nil
	}
	return dataset.Batched(ds, size), nil
}

// TrainHandler - Trainiert bis ein Stopp-Kriterium greift
func TrainHandler(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []estimator.Option
	if board, _ := cmd.Flags().GetBool("board"); board {
		opts = append(opts, estimator.WithTensorBoard(estimator.TensorBoardConfig{}))
	}

	e, err := loadEstimator(cmd, opts...)
	if err != nil {
		return err
	}

	data, err := csvData(cmd, false)
	if err != nil {
		return err
	}

	var criteria estimator.StopCriteria
	criteria.MaxSteps, _ = cmd.Flags().GetInt64("max-steps")
	criteria.MaxEpochs, _ = cmd.Flags().GetInt("max-epochs")
	criteria.MaxDuration, _ = cmd.Flags().GetDuration("max-duration")
	criteria.RestartCounting, _ = cmd.Flags().GetBool("restart-counting")

	return e.Train(ctx, data, criteria)
}

// newTrainCmd - Erstellt den train Command
func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model and save checkpoints to the work dir",
		Args:  cobra.ExactArgs(0),
		RunE:  TrainHandler,
	}

	addDataFlags(cmd)
	cmd.Flags().Int64("max-steps", 0, "Global step to train to (0 for no limit)")
	cmd.Flags().Int("max-epochs", 1, "Passes over the data (-1 repeats indefinitely)")
	cmd.Flags().Duration("max-duration", 0, "Stop after this duration (0 for no limit)")
	cmd.Flags().Bool("restart-counting", false, "Count --max-steps from the restored step")
	cmd.Flags().Bool("board", false, "Serve the board while training")
	return cmd
}

// parseMetrics - Wandelt eine Komma-Liste in Metriken um
func parseMetrics(s string) ([]metrics.Metric, error) {
	var ms []metrics.Metric
	for _, name := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "mse":
			ms = append(ms, metrics.MSE())
		case "rmse":
			ms = append(ms, metrics.RMSE())
		case "mae":
			ms = append(ms, metrics.MAE())
		case "accuracy":
			ms = append(ms, metrics.Accuracy())
		default:
			return nil, fmt.Errorf("unknown metric %q", name)
		}
	}
	if len(ms) == 0 {
		return nil, fmt.Errorf("no metrics given")
	}
	return ms, nil
}

// EvalHandler - Evaluiert einen Checkpoint oder beobachtet das Arbeitsverzeichnis
func EvalHandler(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := loadEstimator(cmd)
	if err != nil {
		return err
	}

	data, err := csvData(cmd, false)
	if err != nil {
		return err
	}

	names, _ := cmd.Flags().GetString("metrics")
	ms, err := parseMetrics(names)
	if err != nil {
		return err
	}

	var opts estimator.EvalOptions
	opts.Metrics = ms
	opts.MaxSteps, _ = cmd.Flags().GetInt64("max-steps")
	opts.CheckpointPath, _ = cmd.Flags().GetString("checkpoint")
	opts.SaveSummaries, _ = cmd.Flags().GetBool("save-summaries")
	opts.Name, _ = cmd.Flags().GetString("name")

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return e.EvaluateContinuously(ctx, data, opts, func(r estimator.EvalResult) bool {
			printEvalResult(cmd, r)
			return true
		})
	}

	r, err := e.EvaluateWithHooks(ctx, data, opts)
	if err != nil {
		return err
	}
	printEvalResult(cmd, r)
	if r.Status == estimator.EvalAborted {
		return fmt.Errorf("evaluation aborted: %w", r.Cause)
	}
	return nil
}

// printEvalResult - Gibt die Metriken als Tabelle aus
func printEvalResult(cmd *cobra.Command, r estimator.EvalResult) {
	var data [][]string
	if r.Values != nil {
		for pair := r.Values.Oldest(); pair != nil; pair = pair.Next() {
			data = append(data, []string{pair.Key, fmt.Sprintf("%.6g", pair.Value)})
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "checkpoint %s, global step %d, %d steps (%s)\n", r.Checkpoint, r.Step, r.Steps, r.Status)

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"METRIC", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// newEvalCmd - Erstellt den eval Command
func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate the latest or a given checkpoint",
		Args:  cobra.ExactArgs(0),
		RunE:  EvalHandler,
	}

	addDataFlags(cmd)
	cmd.Flags().String("metrics", "mse,mae", "Comma separated metrics: mse, rmse, mae, accuracy")
	cmd.Flags().Int64("max-steps", -1, "Number of batches to evaluate (-1 until the data is exhausted)")
	cmd.Flags().String("checkpoint", "", "Checkpoint file (default: latest in the work dir)")
	cmd.Flags().Bool("save-summaries", false, "Write the metrics to the summaries of the work dir")
	cmd.Flags().String("name", "", "Name of the evaluation, used for its summary run")
	cmd.Flags().Bool("watch", false, "Evaluate every new checkpoint until interrupted")
	return cmd
}
