// Copyright (c) 2026 QueryGate. All rights reserved.

package gateway

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// # Resource Registration

// registerResources exposes the configured databases and their rendered
// schemas. One schema resource is registered per database at startup; the
// database list is fixed for the process lifetime.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "databases://list",
		Name:        "databases",
		Description: "Names of the configured databases, one per line.",
		MIMEType:    "text/plain",
	}, s.readDatabaseList)

	for _, database := range s.databases {
		s.mcpServer.AddResource(&mcp.Resource{
			URI:         "schema://" + database,
			Name:        "schema-" + database,
			Description: "Rendered schema of the " + database + " database.",
			MIMEType:    "text/plain",
		}, s.readSchema(database))
	}
}

func (s *Server) readDatabaseList(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     strings.Join(s.databases, "\n"),
		}},
	}, nil
}

// readSchema serves the same rendered text the model sees, so operators can
// inspect exactly what the generator was prompted with.
func (s *Server) readSchema(database string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		snap, err := s.schemas.Get(ctx, database)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     snap.Render(),
			}},
		}, nil
	}
}
