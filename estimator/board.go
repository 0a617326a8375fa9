package estimator

import (
	"cmp"
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/estimator/envconfig"
	"github.com/ollama/estimator/server"
)

// TensorBoardConfig serves summaries and checkpoints while training runs.
type TensorBoardConfig struct {
	// Addr defaults to ESTIMATOR_BOARD_HOST.
	Addr string

	// Dir defaults to the work dir.
	Dir string
}

// start serves the board until the returned function is called.
func (c *TensorBoardConfig) start(ctx context.Context, workDir string) (func(), error) {
	dir := cmp.Or(c.Dir, workDir)
	if dir == "" {
		return nil, fmt.Errorf("%w: the board needs a directory", ErrInvalidArgument)
	}

	ln, err := net.Listen("tcp", cmp.Or(c.Addr, envconfig.BoardHost()))
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	logger().Info("board listening", "addr", ln.Addr().String(), "dir", dir)

	ctx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		return server.Serve(ctx, ln, dir)
	})

	return func() {
		cancel()
		if err := g.Wait(); err != nil {
			logger().Warn("board stopped", "error", err)
		}
	}, nil
}
