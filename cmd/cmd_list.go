// cmd_list.go - Uebersicht ueber Checkpoints, Runs und Umgebung
// Hauptfunktionen: CheckpointsHandler, RunsHandler, EnvHandler
package cmd

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/estimator/checkpoint"
	"github.com/ollama/estimator/envconfig"
	"github.com/ollama/estimator/summary"
)

// newTable - Tabelle im Stil von "ollama list"
func newTable(cmd *cobra.Command, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// humanBytes - Groesse in B, KB, MB oder GB
func humanBytes(n int64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}

// CheckpointsHandler - Listet die aufbewahrten Checkpoints
func CheckpointsHandler(cmd *cobra.Command, _ []string) error {
	dir, err := workDir(cmd)
	if err != nil {
		return err
	}

	latest, _ := checkpoint.Latest(dir)

	var data [][]string
	for _, path := range checkpoint.List(dir) {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		step, _ := checkpoint.StepFromPath(path)
		marker := ""
		if path == latest {
			marker = "*"
		}
		data = append(data, []string{
			fmt.Sprint(step),
			fi.Name(),
			humanBytes(fi.Size()),
			fi.ModTime().Format(time.DateTime),
			marker,
		})
	}

	table := newTable(cmd, []string{"STEP", "FILE", "SIZE", "MODIFIED", "LATEST"})
	table.AppendBulk(data)
	table.Render()
	return nil
}

// RunsHandler - Listet die Summary-Runs
func RunsHandler(cmd *cobra.Command, _ []string) error {
	dir, err := workDir(cmd)
	if err != nil {
		return err
	}

	r, err := summary.Open(dir)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no summaries in %s", dir)
	} else if err != nil {
		return err
	}
	defer r.Close()

	runs, err := r.Runs(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, run := range runs {
		tags, err := r.Tags(cmd.Context(), run.Name)
		if err != nil {
			return err
		}
		data = append(data, []string{run.Name, fmt.Sprint(run.Scalars), strings.Join(tags, ", ")})
	}

	table := newTable(cmd, []string{"RUN", "SCALARS", "TAGS"})
	table.AppendBulk(data)
	table.Render()
	return nil
}

// EnvHandler - Zeigt alle Umgebungsvariablen mit ihren Werten
func EnvHandler(cmd *cobra.Command, _ []string) error {
	vars := envconfig.AsMap()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)

	var data [][]string
	for _, name := range names {
		data = append(data, []string{name, fmt.Sprint(vars[name].Value), vars[name].Description})
	}

	table := newTable(cmd, []string{"NAME", "VALUE", "DESCRIPTION"})
	table.AppendBulk(data)
	table.Render()
	return nil
}

func newCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"ls"},
		Short:   "List checkpoints of the work dir",
		Args:    cobra.ExactArgs(0),
		RunE:    CheckpointsHandler,
	}
}

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List summary runs of the work dir",
		Args:  cobra.ExactArgs(0),
		RunE:  RunsHandler,
	}
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show environment variables and their current values",
		Args:  cobra.ExactArgs(0),
		RunE:  EnvHandler,
	}
}
