// Copyright (c) 2026 QueryGate. All rights reserved.

package gateway

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/querygate/querygate/internal/orchestrator"
)

// # Tool Contracts

type queryInput struct {
	Question string `json:"question"`
	Database string `json:"database"`
	// ReturnType selects the response shape: sql, result, or both.
	ReturnType string `json:"return_type,omitempty"`
	// Limit lowers the row cap for this request only.
	Limit int `json:"limit,omitempty"`
}

type queryOutput struct {
	Success      bool                      `json:"success"`
	SQL          string                    `json:"sql,omitempty"`
	Explanation  string                    `json:"explanation,omitempty"`
	Result       *orchestrator.QueryResult `json:"result,omitempty"`
	ErrorCode    string                    `json:"error_code,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	Details      map[string]any            `json:"details,omitempty"`
}

type refreshInput struct {
	// Databases limits the refresh; empty means every configured database.
	Databases []string `json:"databases,omitempty"`
}

type refreshOutput struct {
	Success   bool     `json:"success"`
	Databases []string `json:"databases"`
	Error     string   `json:"error,omitempty"`
}

// # Tool Registration

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "query",
		Description: "Answer a natural-language question against a configured PostgreSQL " +
			"database by generating and executing safe, read-only SQL.",
	}, s.handleQuery)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "refresh_schema",
		Description: "Force a fresh schema introspection for the named databases " +
			"(all databases when none are given).",
	}, s.handleRefreshSchema)
}

// handleQuery delegates to the orchestrator. Pipeline failures are part of
// the deterministic output shape, not protocol errors; the tool itself only
// errs on transport problems.
func (s *Server) handleQuery(ctx context.Context, req *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, queryOutput, error) {
	// A single-database deployment may omit the database argument.
	if in.Database == "" && len(s.databases) == 1 {
		in.Database = s.databases[0]
	}
	response := s.pipeline.Query(ctx, orchestrator.Request{
		Question:   in.Question,
		Database:   in.Database,
		ReturnType: in.ReturnType,
		Limit:      in.Limit,
	})
	return nil, queryOutput{
		Success:      response.Success,
		SQL:          response.SQL,
		Explanation:  response.Explanation,
		Result:       response.Result,
		ErrorCode:    response.ErrorCode,
		ErrorMessage: response.ErrorMessage,
		Details:      response.Details,
	}, nil
}

func (s *Server) handleRefreshSchema(ctx context.Context, req *mcp.CallToolRequest, in refreshInput) (*mcp.CallToolResult, refreshOutput, error) {
	databases := in.Databases
	if len(databases) == 0 {
		databases = s.databases
	}
	refreshed, err := s.pipeline.RefreshSchema(ctx, databases)
	out := refreshOutput{Success: err == nil, Databases: refreshed}
	if err != nil {
		out.Error = err.Error()
	}
	return nil, out, nil
}
