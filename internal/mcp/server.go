// Package mcp exposes gateway administration as MCP tools over stdio, so an
// operator's agent can inspect levels, review elevation requests and grant
// permissions without a separate admin UI.
package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/cmdgate/internal/approval"
	"github.com/ppiankov/cmdgate/internal/authz"
)

// Actor is recorded as granted_by for changes made through MCP tools.
const Actor = "mcp"

// Config holds MCP server configuration.
type Config struct {
	Engine    *authz.Engine
	Approvals *approval.Store
	Version   string
}

// Server wraps the MCP SDK server with the gateway's authorization engine.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *authz.Engine
	approvals *approval.Store
}

// New creates an MCP server with all cmdgate tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("mcp: engine is required")
	}
	if cfg.Approvals == nil {
		return nil, errors.New("mcp: approval store is required")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		engine:    cfg.Engine,
		approvals: cfg.Approvals,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "cmdgate",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cmdgate_check",
		Description: "Check whether an identity may call a method at its current level (dry-run, no nonce or rate limit is consumed).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cmdgate_permissions",
		Description: "Show the stored permission of one identity, or list all grants when identity is omitted.",
	}, s.handlePermissions)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cmdgate_grant",
		Description: "Set an identity's permission level, or approve a pending elevation request by key.",
	}, s.handleGrant)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cmdgate_pending",
		Description: "List pending elevation requests created by permission denials.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cmdgate_audit",
		Description: "List recent authorization decisions, newest first.",
	}, s.handleAudit)
}
