package mcp

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/contextfs/internal/index"
	"github.com/fyrsmithlabs/contextfs/internal/maps"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultSearchLimit = 5
	defaultGraphLimit  = 25
)

type fileSearchInput struct {
	Query string `json:"query" jsonschema:"Natural language description of the file content to find"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default 5, max 50)"`
}

type fileSearchOutput struct {
	Results []index.SearchResult `json:"results" jsonschema:"Matches ordered by descending similarity"`
	Count   int                  `json:"count" jsonschema:"Number of results returned"`
}

type fileGraphInput struct {
	Entity string `json:"entity" jsonschema:"Tag or entity name, matched exactly ignoring case"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum file nodes to return (default 25)"`
}

type fileGraphOutput struct {
	Nodes []index.Node `json:"nodes" jsonschema:"The entity root node followed by one node per matching file"`
	Edges []index.Edge `json:"edges" jsonschema:"mentions edges from the entity to each file"`
}

type fileIndexInput struct {
	FilePath string `json:"file_path" jsonschema:"Absolute path of a png, jpg, jpeg or pdf file"`
	UserNote string `json:"user_note,omitempty" jsonschema:"Optional note stored with the file and returned in search results"`
}

type fileIndexOutput struct {
	Status string `json:"status" jsonschema:"claimed or already_claimed"`
	Kind   string `json:"kind" jsonschema:"image or document"`
}

type fileRemoveInput struct {
	FilePath string `json:"file_path" jsonschema:"Absolute source path whose index entries are removed"`
}

type fileRemoveOutput struct {
	Removed string `json:"removed" jsonschema:"The source path that was removed"`
}

type mapListInput struct{}

type mapListOutput struct {
	Maps  []maps.Map `json:"maps" jsonschema:"Curated maps ordered by id"`
	Count int        `json:"count" jsonschema:"Number of maps"`
}

type mapGetInput struct {
	MapID int64 `json:"map_id" jsonschema:"Map id from map_list"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "file_search",
		Description: "Semantic search over indexed images and PDF pages. Returns file paths, tags, user notes and similarity scores.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args fileSearchInput) (res *mcp.CallToolResult, out fileSearchOutput, err error) {
		done := s.metrics.track(ctx, "file_search")
		defer func() { done(err) }()

		limit := args.Limit
		if limit == 0 {
			limit = defaultSearchLimit
		}
		results, err := s.svc.Search(ctx, args.Query, limit)
		if err != nil {
			return nil, fileSearchOutput{}, err
		}
		return nil, fileSearchOutput{Results: results, Count: len(results)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "file_graph",
		Description: "List the files whose tags contain an entity, as a graph of one entity node linked to file nodes.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args fileGraphInput) (res *mcp.CallToolResult, out fileGraphOutput, err error) {
		done := s.metrics.track(ctx, "file_graph")
		defer func() { done(err) }()

		limit := args.Limit
		if limit == 0 {
			limit = defaultGraphLimit
		}
		g, err := s.svc.GraphForEntity(ctx, args.Entity, limit)
		if err != nil {
			return nil, fileGraphOutput{}, err
		}
		out = fileGraphOutput{Nodes: g.Nodes, Edges: g.Edges}
		if out.Nodes == nil {
			out.Nodes = []index.Node{}
		}
		if out.Edges == nil {
			out.Edges = []index.Edge{}
		}
		return nil, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "file_index",
		Description: "Queue a file for analysis and indexing. The file is indexed once its size stops changing.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args fileIndexInput) (res *mcp.CallToolResult, out fileIndexOutput, err error) {
		done := s.metrics.track(ctx, "file_index")
		defer func() { done(err) }()

		admitted, err := s.svc.ManuallyIndex(ctx, args.FilePath, args.UserNote)
		if err != nil {
			return nil, fileIndexOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{
				Text: fmt.Sprintf("%s queued for indexing (%s)", args.FilePath, admitted.Status),
			}},
		}, fileIndexOutput{Status: admitted.Status.String(), Kind: admitted.Kind.String()}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "file_remove",
		Description: "Remove a file and, for PDFs, all of its pages from the index.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args fileRemoveInput) (res *mcp.CallToolResult, out fileRemoveOutput, err error) {
		done := s.metrics.track(ctx, "file_remove")
		defer func() { done(err) }()

		if err := s.svc.DeleteBySourcePath(ctx, args.FilePath); err != nil {
			return nil, fileRemoveOutput{}, err
		}
		return nil, fileRemoveOutput{Removed: args.FilePath}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "map_list",
		Description: "List curated file maps.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ mapListInput) (res *mcp.CallToolResult, out mapListOutput, err error) {
		done := s.metrics.track(ctx, "map_list")
		defer func() { done(err) }()

		list, err := s.svc.ListMaps(ctx)
		if err != nil {
			return nil, mapListOutput{}, err
		}
		if list == nil {
			list = []maps.Map{}
		}
		return nil, mapListOutput{Maps: list, Count: len(list)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "map_get",
		Description: "Get a curated map with its file nodes, positions and labeled edges.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args mapGetInput) (res *mcp.CallToolResult, out *maps.MapData, err error) {
		done := s.metrics.track(ctx, "map_get")
		defer func() { done(err) }()

		data, err := s.svc.GetMap(ctx, args.MapID)
		if err != nil {
			return nil, nil, err
		}
		if data.Nodes == nil {
			data.Nodes = []maps.Node{}
		}
		if data.Edges == nil {
			data.Edges = []maps.Edge{}
		}
		return nil, data, nil
	})
}
