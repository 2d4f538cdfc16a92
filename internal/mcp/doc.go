// Package mcp exposes the contextfs query surface as MCP tools over stdio.
//
// Tools: file_search, file_graph, file_index, file_remove, map_list and
// map_get. Each one calls the service layer directly and reports failures
// as tool errors so the model can see and correct them.
package mcp
