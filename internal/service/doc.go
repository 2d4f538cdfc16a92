// Package service is the query surface shared by the HTTP API and the MCP
// server: search, graph, delete, manual indexing and curated map CRUD.
//
// Every validation failure is returned as one of the sentinel errors below,
// wrapped with context, so transports can map them to status codes.
package service
