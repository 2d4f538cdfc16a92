// Contextfs watches drop folders, indexes images and PDFs for semantic search
// and serves the index over HTTP.
//
// Configuration is read from ~/.config/contextfs/config.yaml and CONTEXTFS_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon
//	contextfs
//
//	# Serve MCP tools on stdio, delegating to a running daemon
//	contextfs mcp
//
//	# Configure via environment
//	CONTEXTFS_SERVER_PORT=9000 CONTEXTFS_WATCH_ROOTS=~/Inbox contextfs
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "contextfs",
		Short: "Semantic index daemon for dropped files",
		Long: `contextfs watches drop folders, waits for files to finish writing,
analyzes images and PDFs, and serves semantic search, tag graphs and curated
maps over HTTP.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/contextfs/config.yaml)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMCPCmd(&configPath))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd)
		},
	}
}

// printVersion prints version information
func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "contextfs by Fyrsmith Labs\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}
