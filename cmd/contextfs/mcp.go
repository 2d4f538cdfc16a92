package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextfs/internal/client"
	"github.com/fyrsmithlabs/contextfs/internal/config"
	contextmcp "github.com/fyrsmithlabs/contextfs/internal/mcp"
	"github.com/fyrsmithlabs/contextfs/internal/telemetry"
)

func newMCPCmd(configPath *string) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools on stdio",
		Long: `Serve the contextfs MCP tools over stdio for AI assistants.

Tool calls are delegated to a running contextfs daemon over HTTP, so the
index is only ever opened by the daemon.

Examples:
  # Use the daemon from the config file
  contextfs mcp

  # Use a daemon on another port
  contextfs mcp --server http://localhost:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if server == "" {
				server = daemonURL(cfg.Server)
			}
			return runStdio(cmd.Context(), cfg, server)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "contextfs daemon URL (default from config)")
	return cmd
}

// runStdio serves MCP on stdin/stdout until ctx is canceled or the client
// disconnects. stdout carries the protocol, so logs go to stderr.
func runStdio(ctx context.Context, cfg *config.Config, server string) error {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := newLogger(cfg, tel, true)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zlog := logger.Underlying()

	remote := client.NewRemote(client.New(server), zlog.Named("remote"))
	srv, err := contextmcp.NewServer(&contextmcp.Config{
		Name:    "contextfs",
		Version: version,
		Logger:  zlog.Named("mcp"),
		Meter:   tel.Meter("contextfs/mcp"),
	}, remote)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	zlog.Info("delegating to daemon", zap.String("daemon_url", server))
	fmt.Fprintf(os.Stderr, "contextfs stdio mode started (delegating to daemon at %s)\n", server)

	return srv.Run(ctx)
}

// daemonURL is the loopback address of the configured HTTP server.
func daemonURL(s config.ServerConfig) string {
	host := s.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}
