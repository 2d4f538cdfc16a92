package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	api "github.com/fyrsmithlabs/contextfs/internal/http"
	"github.com/fyrsmithlabs/contextfs/internal/index"
)

func newSearchCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Semantic search over indexed files",
		Long: `Search indexed images, PDFs and PDF pages by meaning.

Examples:
  cfs search red car
  cfs search --limit 20 "tax form 2024"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := c.client().Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, hits, func() error {
				if len(hits) == 0 {
					fmt.Fprintln(out, "No results.")
					return nil
				}
				fmt.Fprintln(out, searchTable(hits))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum results (1-50)")
	return cmd
}

func searchTable(hits []api.SearchHit) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SCORE", "TYPE", "FILE", "PAGE", "TAGS")
	for _, h := range hits {
		path, page := h.FilePath, ""
		if h.Type == "pdf_page" {
			path, page = h.OriginalPDFPath, strconv.Itoa(h.PageNum)
		}
		t.Row(fmt.Sprintf("%.2f", h.Similarity), h.Type, path, page, strings.Join(h.Tags, ", "))
	}
	return t.String()
}

func newIndexCmd(c *cli) *cobra.Command {
	var caption string

	cmd := &cobra.Command{
		Use:   "index <file>",
		Short: "Queue a file for indexing",
		Long: `Queue a file for indexing, optionally with a caption that is stored
alongside the analysis.

Examples:
  cfs index ~/Downloads/scan.pdf
  cfs index --caption "whiteboard from planning" photo.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := absPath(args[0])
			if err != nil {
				return err
			}
			resp, err := c.client().IndexFile(cmd.Context(), path, caption)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, resp, func() error {
				fmt.Fprintf(out, "%s: %s\n", resp.Status, resp.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&caption, "caption", "c", "", "caption stored with the file")
	return cmd
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <file>",
		Short: "Remove a file and its pages from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := absPath(args[0])
			if err != nil {
				return err
			}
			if err := c.client().RemoveFile(cmd.Context(), path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, api.MessageResponse{Status: "deleted"}, func() error {
				fmt.Fprintf(out, "Removed %s\n", path)
				return nil
			})
		},
	}
}

func newGraphCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "graph <tag>",
		Short: "Show files linked to a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := c.client().Graph(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, g, func() error {
				fmt.Fprintf(out, "%s: %d files\n", args[0], len(g.Edges))
				for _, n := range g.Nodes {
					if n.Type == index.NodeEntity {
						continue
					}
					fmt.Fprintf(out, "  %s\t%s\n", n.Label, n.SourcePath)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 25, "maximum linked files")
	return cmd
}
