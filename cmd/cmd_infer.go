// cmd_infer.go - Vorhersagen aus dem letzten Checkpoint
// Hauptfunktionen: InferHandler, formatValue
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/estimator/dataset"
	"github.com/ollama/estimator/estimator"
	"github.com/ollama/estimator/ml"
)

// parseFeatures - Wandelt Argumente in einen Feature-Vektor
func parseFeatures(args []string) ([]float32, error) {
	features := make([]float32, 0, len(args))
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			f, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: feature %q: %v", estimator.ErrInvalidArgument, field, err)
			}
			features = append(features, float32(f))
		}
	}
	return features, nil
}

// formatValue - Lesbare Darstellung von Ein- und Ausgaben
func formatValue(v any) string {
	switch v := v.(type) {
	case *ml.Array:
		if v == nil {
			return ""
		}
		if len(v.Floats) == 1 {
			return strconv.FormatFloat(float64(v.Floats[0]), 'g', 6, 32)
		}
		return formatFloats(v.Floats)
	case dataset.Example:
		return formatFloats(v.Features)
	case []float32:
		return formatFloats(v)
	default:
		return fmt.Sprint(v)
	}
}

func formatFloats(s []float32) string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = strconv.FormatFloat(float64(f), 'g', 6, 32)
	}
	return strings.Join(parts, ",")
}

// InferHandler - Sagt Werte fuer Argumente oder eine CSV-Datei vorher
func InferHandler(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path, _ := cmd.Flags().GetString("data")
	if path == "" && len(args) == 0 {
		return fmt.Errorf("either --data or feature values are required")
	}

	e, err := loadEstimator(cmd)
	if err != nil {
		return err
	}

	var data ml.Dataset
	if path != "" {
		header, _ := cmd.Flags().GetBool("header")
		noLabel, _ := cmd.Flags().GetBool("no-label")
		label, _ := cmd.Flags().GetInt("label-column")
		if _, err := os.Stat(path); err != nil {
			return err
		}
		data = dataset.ReadCSV(path, dataset.CSVOptions{Header: header, LabelColumn: label, NoLabel: noLabel})
	} else {
		features, err := parseFeatures(args)
		if err != nil {
			return err
		}
		data = dataset.FromSlice([][]float32{features})
	}

	checkpointPath, _ := cmd.Flags().GetString("checkpoint")
	predictions, err := e.InferWithHooks(ctx, data, nil, checkpointPath)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"INPUT", "PREDICTION"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for p, err := range predictions {
		if err != nil {
			return err
		}
		table.Append([]string{formatValue(p.Input), formatValue(p.Output)})
	}

	table.Render()
	return nil
}

// newInferCmd - Erstellt den infer Command
func newInferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infer [FEATURE...]",
		Short: "Predict from the latest checkpoint",
		Example: `  estimator infer -w runs/linear 0.25
  estimator infer -w runs/linear --data inputs.csv --no-label`,
		RunE: InferHandler,
	}

	cmd.Flags().String("data", "", "CSV file with one example per record")
	cmd.Flags().Bool("header", false, "Skip the first CSV record")
	cmd.Flags().Bool("no-label", false, "The CSV file has no label column")
	cmd.Flags().Int("label-column", -1, "Index of the label column (negative selects the last)")
	cmd.Flags().String("checkpoint", "", "Checkpoint file (default: latest in the work dir)")
	cmd.Flags().String("model", "", "Registered model name (default from configuration, else linear)")
	return cmd
}
