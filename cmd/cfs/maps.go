package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	api "github.com/fyrsmithlabs/contextfs/internal/http"
)

func newMapsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maps",
		Short: "Manage curated maps",
		Long: `Manage curated maps: named canvases of file nodes and labeled edges.

Examples:
  cfs maps create trip
  cfs maps node 1 ~/Photos/beach.jpg --x 120 --y 40
  cfs maps edge 1 3 4 --label "same day"
  cfs maps get 1`,
	}
	cmd.AddCommand(
		newMapsListCmd(c),
		newMapsCreateCmd(c),
		newMapsGetCmd(c),
		newMapsDeleteCmd(c),
		newMapsNodeCmd(c),
		newMapsEdgeCmd(c),
	)
	return cmd
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

func newMapsListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List maps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := c.client().ListMaps(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, list, func() error {
				if len(list) == 0 {
					fmt.Fprintln(out, "No maps.")
					return nil
				}
				t := table.New().Border(lipgloss.NormalBorder()).Headers("ID", "NAME")
				for _, m := range list {
					t.Row(strconv.FormatInt(m.ID, 10), m.Name)
				}
				fmt.Fprintln(out, t.String())
				return nil
			})
		},
	}
}

func newMapsCreateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.client().CreateMap(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, m, func() error {
				fmt.Fprintf(out, "Created map %d (%s)\n", m.ID, m.Name)
				return nil
			})
		},
	}
}

func newMapsGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <map-id>",
		Short: "Show a map with its nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "map id")
			if err != nil {
				return err
			}
			data, err := c.client().GetMap(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, data, func() error {
				fmt.Fprintf(out, "%s (id %d): %d nodes, %d edges\n",
					data.Map.Name, data.Map.ID, len(data.Nodes), len(data.Edges))
				for _, n := range data.Nodes {
					fmt.Fprintf(out, "  node %d  (%d,%d)  %s\n", n.ID, n.X, n.Y, n.FilePath)
				}
				for _, e := range data.Edges {
					fmt.Fprintf(out, "  edge %d  %d -> %d  %s\n", e.ID, e.SourceNodeID, e.TargetNodeID, e.Label)
				}
				return nil
			})
		},
	}
}

func newMapsDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <map-id>",
		Short: "Delete a map with its nodes and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "map id")
			if err != nil {
				return err
			}
			if err := c.client().DeleteMap(cmd.Context(), id); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, api.MessageResponse{Status: "deleted"}, func() error {
				fmt.Fprintf(out, "Deleted map %d\n", id)
				return nil
			})
		},
	}
}

func newMapsNodeCmd(c *cli) *cobra.Command {
	var x, y int

	cmd := &cobra.Command{
		Use:   "node <map-id> <file>",
		Short: "Place a file on a map",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "map id")
			if err != nil {
				return err
			}
			path, err := absPath(args[1])
			if err != nil {
				return err
			}
			n, err := c.client().AddNode(cmd.Context(), id, path, x, y)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, n, func() error {
				fmt.Fprintf(out, "Added node %d to map %d\n", n.ID, n.MapID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&x, "x", 0, "x position")
	cmd.Flags().IntVar(&y, "y", 0, "y position")
	return cmd
}

func newMapsEdgeCmd(c *cli) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "edge <map-id> <source-node> <target-node>",
		Short: "Link two nodes of a map",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, len(args))
			for i, a := range args {
				id, err := parseID(a, "id")
				if err != nil {
					return err
				}
				ids[i] = id
			}
			e, err := c.client().CreateEdge(cmd.Context(), ids[0], ids[1], ids[2], label)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.print(out, e, func() error {
				fmt.Fprintf(out, "Added edge %d (%d -> %d)\n", e.ID, e.SourceNodeID, e.TargetNodeID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "edge label")
	return cmd
}
