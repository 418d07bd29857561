package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/taskmem/internal/server"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (overrides metrics.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := openComponents()
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() { _ = c.Close() }()

	// Graceful shutdown on interrupt.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := c.Config.Metrics.Addr
	if metricsAddr != "" {
		addr = metricsAddr
	}
	if addr != "" {
		go func() {
			if err := c.Metrics.Serve(ctx, addr, c.Logger); err != nil {
				c.Logger.Error("metrics listener failed", "addr", addr, "error", err)
			}
		}()
	}

	c.Logger.Info("taskmem serving on stdio",
		"version", server.Version,
		"data_dir", c.Config.DataDir,
		"estimator", c.Config.Tokens.Estimator,
	)

	stdio := mcpserver.NewStdioServer(server.New(c))
	stdio.SetErrorLogger(slog.NewLogLogger(c.Logger.Handler(), slog.LevelError))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	c.Logger.Info("taskmem stopped")
	return nil
}
