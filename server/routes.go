// Package server - Board-Server fuer Summaries und Checkpoints
// Beinhaltet: Server-Struct, Router-Registrierung, Middleware, Server-Start
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ollama/estimator/envconfig"
)

var mode string = gin.ReleaseMode

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.ReleaseMode
	}

	gin.SetMode(mode)
}

// Server serves the summaries and checkpoints of one work directory.
type Server struct {
	addr net.Addr
	dir  string
}

// New returns a server for dir. addr is the listen address; requests for
// foreign hosts are rejected while it is a loopback address.
func New(dir string, addr net.Addr) *Server {
	return &Server{addr: addr, dir: dir}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		requestLogger(),
		cors.New(corsConfig),
		boardHostGuard(s.addr),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "Estimator board is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Estimator board is running") })

	// Summaries
	r.GET("/api/runs", s.RunsHandler)
	r.GET("/api/runs/:run/tags", s.TagsHandler)
	r.GET("/api/scalars", s.ScalarsHandler)

	// Checkpoints
	r.GET("/api/checkpoints", s.CheckpointsHandler)

	return r
}

// Serve serves the board for dir on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, dir string) error {
	s := New(dir, ln.Addr())

	srvr := &http.Server{
		Handler:           s.GenerateRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srvr.Shutdown(shutdownCtx); err != nil {
			slog.Warn("board shutdown", "error", err)
		}
	}()

	slog.Info("board listening", "addr", ln.Addr().String(), "dir", dir)
	if err := srvr.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger loggt jede Anfrage auf DEBUG-Level
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
		)
	}
}
