// Package server exposes the knowledge graph over the Model Context Protocol.
// Each graph operation is one MCP tool; results and structured errors are
// returned as JSON text content so clients can branch on error codes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/config"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/kg"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/schema"
)

const serverName = "knowledge-graph-mcp"

// Server wires the knowledge graph services into an MCP server.
type Server struct {
	cfg       config.ServerConfig
	registry  *schema.Registry
	validator *kg.Validator
	mutation  kg.MutationService
	analytics kg.AnalyticsService
	logger    *slog.Logger
	mcp       *server.MCPServer
}

// New builds the MCP server and registers all graph tools.
func New(cfg config.ServerConfig, registry *schema.Registry, mutation kg.MutationService, analytics kg.AnalyticsService, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		registry:  registry,
		validator: kg.NewValidator(registry),
		mutation:  mutation,
		analytics: analytics,
		logger:    logger,
		mcp: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(true),
			server.WithLogging(),
		),
	}
	s.registerTools()
	return s
}

// Run serves MCP over the configured transport until ctx is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Transport {
	case config.TransportSSE:
		sse := server.NewSSEServer(s.mcp)
		s.logger.Info("sse server listening", "address", s.cfg.Address)

		errCh := make(chan error, 1)
		go func() { errCh <- sse.Start(s.cfg.Address) }()

		select {
		case <-ctx.Done():
			shutdownCtx := context.WithoutCancel(ctx)
			if err := sse.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("sse shutdown: %w", err)
			}
			return nil
		case err := <-errCh:
			return err
		}

	default:
		s.logger.Info("serving over stdio")
		return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
	}
}
