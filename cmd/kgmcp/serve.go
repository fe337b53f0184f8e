package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/config"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/graph"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/kg"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/observability"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/schema"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/server"
)

var (
	serveTransport string
	serveAddress   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Loads the schema, connects to the graph database, and serves the
knowledge graph tools over MCP. The stdio transport is the default;
use --transport sse for a network listener.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "Transport protocol: stdio or sse (overrides config)")
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "Listen address for the sse transport (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if serveTransport != "" {
		cfg.Server.Transport = serveTransport
	}
	if serveAddress != "" {
		cfg.Server.Address = serveAddress
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Log to stderr: the stdio transport owns stdout.
	logger := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	registry, err := schema.NewLoader(cfg.Schema.Dir).Load(cfg.Schema.Name)
	if err != nil {
		return err
	}
	logger.Info("schema loaded",
		"name", cfg.Schema.Name,
		"entity_types", len(registry.EntityTypes()),
		"relationship_types", len(registry.RelationshipTypes()))

	client, err := graph.NewNeo4jClient(cfg.Graph)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Close(ctx); err != nil {
			logger.Warn("failed to close graph client", "error", err)
		}
	}()
	logger.Info("connected to graph database", "uri", cfg.Graph.URI)

	var mutation kg.MutationService = kg.NewMutator(
		registry, client, kg.NewNormalizer(cfg.Normalizer), cfg.Mutation, logger)
	var analytics kg.AnalyticsService = kg.NewAnalytics(registry, client)
	if cfg.Server.TracingEnabled {
		mutation = kg.NewTracedMutation(mutation)
		analytics = kg.NewTracedAnalytics(analytics)
	}

	srv := server.New(cfg.Server, registry, mutation, analytics, version, logger)

	logger.Info("starting MCP server",
		"transport", cfg.Server.Transport,
		"version", version)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
