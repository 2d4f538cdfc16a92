package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/contextfs/internal/monitor"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ingestion counters and index size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, st, func() error {
				fmt.Fprintf(out, "Server:     %s\n", c.server)
				fmt.Fprintf(out, "Uptime:     %s\n", monitor.FormatUptime(st.UptimeSeconds))
				if st.IndexEntries < 0 {
					fmt.Fprintf(out, "Index:      unavailable (%s)\n", st.IndexProvider)
				} else {
					fmt.Fprintf(out, "Index:      %s entries (%s)\n", monitor.FormatCount(int64(st.IndexEntries)), st.IndexProvider)
				}
				fmt.Fprintf(out, "In flight:  %d\n", st.Ingest.InFlight)
				fmt.Fprintf(out, "Settled:    %s\n", monitor.FormatCount(st.Ingest.Settled))
				fmt.Fprintf(out, "Abandoned:  %s\n", monitor.FormatCount(st.Ingest.Abandoned))
				fmt.Fprintf(out, "Failed:     %s\n", monitor.FormatCount(st.Ingest.Failed))
				fmt.Fprintf(out, "Removed:    %s\n", monitor.FormatCount(st.Ingest.Removed))
				fmt.Fprintf(out, "Records:    %s\n", monitor.FormatCount(st.Ingest.RecordsIndexed))
				if s := st.LastSweep; s != nil {
					fmt.Fprintf(out, "Last sweep: %s, %d seen, %d claimed, %d errors\n",
						monitor.FormatAgo(s.Started, time.Now()), s.Seen, s.Claimed, s.Errors)
				} else {
					fmt.Fprintln(out, "Last sweep: never")
				}
				return nil
			})
		},
	}
}

func newMonitorCmd(c *cli) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live dashboard of ingestion activity",
		Long: `Open a terminal dashboard that polls the daemon status endpoint.

Press q to quit and r to refresh immediately.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if interval < 100*time.Millisecond {
				return fmt.Errorf("interval must be at least 100ms")
			}
			return monitor.Run(c.client(), c.server, interval)
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 2*time.Second, "refresh interval")
	return cmd
}
