// cmd_board.go - Board-Server fuer Summaries und Checkpoints
// Hauptfunktionen: BoardHandler
package cmd

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ollama/estimator/envconfig"
	"github.com/ollama/estimator/server"
)

// BoardHandler - Startet den Board-Server bis zum Signal
func BoardHandler(cmd *cobra.Command, _ []string) error {
	dir, err := workDir(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = envconfig.BoardHost()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	slog.Info("board listening", "addr", ln.Addr().String(), "workdir", dir)
	return server.Serve(ctx, ln, dir)
}

// newBoardCmd - Erstellt den board Command
func newBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Serve summaries and checkpoints of the work dir over HTTP",
		Args:  cobra.ExactArgs(0),
		RunE:  BoardHandler,
	}

	cmd.Flags().String("addr", "", "Listen address (default from ESTIMATOR_BOARD_HOST)")
	return cmd
}
