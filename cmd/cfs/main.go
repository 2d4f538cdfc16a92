// Package main implements the cfs CLI for manual operations against a
// contextfs daemon.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/contextfs/internal/client"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the flags shared by every subcommand.
type cli struct {
	server  string
	timeout time.Duration
	json    bool
}

func (c *cli) client() *client.Client {
	return client.New(c.server, client.WithTimeout(c.timeout))
}

// print writes v as indented JSON when --json is set, otherwise calls human.
func (c *cli) print(w io.Writer, v any, human func() error) error {
	if !c.json {
		return human()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "cfs",
		Short: "CLI for the contextfs daemon",
		Long: `cfs is a command-line interface for a running contextfs daemon.
It searches the index, queues and removes files, explores the tag graph,
edits curated maps and shows live ingestion status.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.server, "server", client.DefaultServer, "contextfs server URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&c.json, "json", false, "print raw JSON")

	root.AddCommand(
		newSearchCmd(c),
		newIndexCmd(c),
		newRemoveCmd(c),
		newGraphCmd(c),
		newMapsCmd(c),
		newStatusCmd(c),
		newMonitorCmd(c),
	)
	return root
}

// absPath resolves p against the working directory; the daemon only
// accepts absolute paths.
func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}
	return abs, nil
}
