package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/kg"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

func (s *Server) registerTools() {
	entityProps := map[string]any{
		"type":       map[string]any{"type": "string", "description": "Declared entity type name"},
		"attributes": map[string]any{"type": "object", "description": "Entity attributes"},
	}
	entitySchema := map[string]any{
		"type":       "object",
		"properties": entityProps,
		"required":   []string{"type", "attributes"},
	}

	s.addTool(mcp.Tool{
		Name:        "upsert_node",
		Description: "Create or merge an entity node. Duplicate entities of the same type are merged conservatively; ambiguous matches fail with DISAMBIGUATION_REQUIRED.",
		InputSchema: objectSchema(entityProps, "type", "attributes"),
	}, s.handleUpsertNode)

	s.addTool(mcp.Tool{
		Name:        "upsert_edge",
		Description: "Create a relationship between two entities, upserting both endpoints first. The (from, type, to) triple must be permitted by the schema.",
		InputSchema: objectSchema(map[string]any{
			"type":       map[string]any{"type": "string", "description": "Relationship type name"},
			"from":       entitySchema,
			"to":         entitySchema,
			"attributes": map[string]any{"type": "object", "description": "Optional edge attributes"},
		}, "type", "from", "to"),
	}, s.handleUpsertEdge)

	s.addTool(mcp.Tool{
		Name:        "update_node",
		Description: "Overwrite attributes on a specific node by ID, skipping duplicate detection. Use this to resolve DISAMBIGUATION_REQUIRED by targeting one of the reported candidate IDs.",
		InputSchema: objectSchema(map[string]any{
			"node_id":    map[string]any{"type": "string"},
			"attributes": map[string]any{"type": "object", "description": "Attributes to write; unnamed attributes are preserved"},
		}, "node_id", "attributes"),
	}, s.handleUpdateNode)

	s.addTool(mcp.Tool{
		Name:        "delete_node",
		Description: "Delete a node by ID. Deleting a node that still has edges fails with DELETION_BLOCKED unless detach is true.",
		InputSchema: objectSchema(map[string]any{
			"node_id": map[string]any{"type": "string"},
			"detach":  map[string]any{"type": "boolean", "description": "Also remove the node's edges"},
		}, "node_id"),
	}, s.handleDeleteNode)

	s.addTool(mcp.Tool{
		Name:        "delete_edge",
		Description: "Delete an edge by ID.",
		InputSchema: objectSchema(map[string]any{
			"edge_id": map[string]any{"type": "string"},
		}, "edge_id"),
	}, s.handleDeleteEdge)

	s.addTool(mcp.Tool{
		Name:        "get_node",
		Description: "Retrieve a node by ID.",
		InputSchema: objectSchema(map[string]any{
			"node_id": map[string]any{"type": "string"},
		}, "node_id"),
	}, s.handleGetNode)

	s.addTool(mcp.Tool{
		Name:        "validate_entity",
		Description: "Check an entity payload against the schema without writing anything. Reports every violation.",
		InputSchema: objectSchema(entityProps, "type", "attributes"),
	}, s.handleValidateEntity)

	s.addTool(mcp.Tool{
		Name:        "validate_relationship",
		Description: "Check whether a (from type, relationship type, to type) triple is permitted by the schema.",
		InputSchema: objectSchema(map[string]any{
			"type":      map[string]any{"type": "string", "description": "Relationship type name"},
			"from_type": map[string]any{"type": "string"},
			"to_type":   map[string]any{"type": "string"},
		}, "type", "from_type", "to_type"),
	}, s.handleValidateRelationship)

	s.addTool(mcp.Tool{
		Name:        "get_graph_stats",
		Description: "Node and edge counts by type, plus schema coverage: declared types with no nodes and stored labels the schema does not declare.",
		InputSchema: objectSchema(map[string]any{}),
	}, s.handleGraphStats)

	s.addTool(mcp.Tool{
		Name:        "get_node_degree",
		Description: "Incoming and outgoing relationship counts of a node.",
		InputSchema: objectSchema(map[string]any{
			"node_id": map[string]any{"type": "string"},
		}, "node_id"),
	}, s.handleNodeDegree)

	s.addTool(mcp.Tool{
		Name:        "query_graph_nodes",
		Description: "List nodes of an entity type, optionally filtered by exact attribute values.",
		InputSchema: objectSchema(map[string]any{
			"entity_type": map[string]any{"type": "string"},
			"filters":     map[string]any{"type": "object", "description": "Attribute values nodes must match exactly"},
			"limit":       map[string]any{"type": "integer"},
		}, "entity_type"),
	}, s.handleQueryNodes)

	s.addTool(mcp.Tool{
		Name:        "query_graph_relationships",
		Description: "List relationships of a given type with their endpoint node IDs.",
		InputSchema: objectSchema(map[string]any{
			"type":  map[string]any{"type": "string", "description": "Relationship type name"},
			"limit": map[string]any{"type": "integer"},
		}, "type"),
	}, s.handleQueryEdges)

	s.addTool(mcp.Tool{
		Name:        "find_orphan_nodes",
		Description: "List nodes with no relationships, optionally filtered by entity type.",
		InputSchema: objectSchema(map[string]any{
			"entity_type": map[string]any{"type": "string"},
			"limit":       map[string]any{"type": "integer"},
		}),
	}, s.handleOrphanNodes)

	s.addTool(mcp.Tool{
		Name:        "get_schema_summary",
		Description: "Summarize the active schema: entity types grouped by category and the relationship types.",
		InputSchema: objectSchema(map[string]any{}),
	}, s.handleSchemaSummary)

	s.addTool(mcp.Tool{
		Name:        "describe_entity_type",
		Description: "Full definition of one entity type, including the relationships it can participate in.",
		InputSchema: objectSchema(map[string]any{
			"type": map[string]any{"type": "string"},
		}, "type"),
	}, s.handleDescribeEntityType)

	s.addTool(mcp.Tool{
		Name:        "graph_health",
		Description: "Health of the graph storage connection.",
		InputSchema: objectSchema(map[string]any{}),
	}, s.handleHealth)
}

type toolHandler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

func (s *Server) addTool(tool mcp.Tool, handler toolHandler) {
	s.mcp.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.logger.Debug("tool call", "tool", req.Params.Name)
		return handler(ctx, req)
	})
}

func (s *Server) handleUpsertNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.mutation.UpsertNode(ctx, kg.EntityInput{
		Type:       argString(args, "type"),
		Attributes: argObject(args, "attributes"),
	})
	if err != nil {
		return errorResult(err)
	}
	return textResult(result)
}

func (s *Server) handleUpsertEdge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.mutation.UpsertEdge(ctx, kg.EdgeInput{
		Type:       argString(args, "type"),
		From:       entityArg(args, "from"),
		To:         entityArg(args, "to"),
		Attributes: argObject(args, "attributes"),
	})
	if err != nil {
		return errorResult(err)
	}
	return textResult(result)
}

func (s *Server) handleUpdateNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.mutation.UpdateNode(ctx, argString(args, "node_id"), argObject(args, "attributes"))
	if err != nil {
		return errorResult(err)
	}
	return textResult(result)
}

func (s *Server) handleDeleteNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.mutation.DeleteNode(ctx, argString(args, "node_id"), argBool(args, "detach"))
	if err != nil {
		return errorResult(err)
	}
	return textResult(result)
}

func (s *Server) handleDeleteEdge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	edgeID := argString(args, "edge_id")
	if err := s.mutation.DeleteEdge(ctx, edgeID); err != nil {
		return errorResult(err)
	}
	return textResult(map[string]any{"edge_id": edgeID, "deleted": true})
}

func (s *Server) handleGetNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	node, err := s.mutation.GetNode(ctx, argString(args, "node_id"))
	if err != nil {
		return errorResult(err)
	}
	return textResult(node)
}

func (s *Server) handleValidateEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	errs := s.validator.ValidateEntity(argString(args, "type"), argObject(args, "attributes"))
	return textResult(validationReport(errs))
}

func (s *Server) handleValidateRelationship(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	errs := s.validator.ValidateRelationship(
		argString(args, "type"),
		argString(args, "from_type"),
		argString(args, "to_type"),
	)
	return textResult(validationReport(errs))
}

func (s *Server) handleGraphStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.analytics.Stats(ctx)
	if err != nil {
		return errorResult(err)
	}
	return textResult(stats)
}

func (s *Server) handleNodeDegree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	nodeID := argString(args, "node_id")
	degree, err := s.analytics.Degree(ctx, nodeID)
	if err != nil {
		return errorResult(err)
	}
	return textResult(map[string]any{"node_id": nodeID, "in": degree.In, "out": degree.Out})
}

func (s *Server) handleQueryNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	nodes, err := s.analytics.QueryNodes(ctx,
		argString(args, "entity_type"),
		argObject(args, "filters"),
		argInt(args, "limit"))
	if err != nil {
		return errorResult(err)
	}
	return textResult(map[string]any{"count": len(nodes), "nodes": nodes})
}

func (s *Server) handleQueryEdges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	edges, err := s.analytics.QueryEdges(ctx, argString(args, "type"), argInt(args, "limit"))
	if err != nil {
		return errorResult(err)
	}
	return textResult(map[string]any{"count": len(edges), "edges": edges})
}

func (s *Server) handleOrphanNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	orphans, err := s.analytics.OrphanNodes(ctx, argString(args, "entity_type"), argInt(args, "limit"))
	if err != nil {
		return errorResult(err)
	}
	return textResult(map[string]any{"count": len(orphans), "nodes": orphans})
}

func (s *Server) handleSchemaSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(s.registry.Summary())
}

func (s *Server) handleDescribeEntityType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name := argString(args, "type")

	def, ok := s.registry.EntityType(name)
	if !ok {
		return errorResult(types.NewError(types.SCHEMA_UNKNOWN_ENTITY_TYPE,
			"entity type "+name+" is not declared in the schema").
			WithContext("known_types", s.registry.EntityTypes()))
	}
	return textResult(map[string]any{
		"definition":    def,
		"relationships": s.registry.RelationshipsFor(name),
	})
}

func (s *Server) handleHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.analytics.Health(ctx)
	if !status.IsHealthy() {
		s.logger.Warn("graph storage health check failed",
			"state", status.State,
			"message", status.Message)
	}
	return textResult(status)
}

// validationViolation is the client-facing form of one schema violation.
type validationViolation struct {
	Code       types.ErrorCode `json:"code"`
	Message    string          `json:"message"`
	Attributes []string        `json:"attributes,omitempty"`
}

func validationReport(errs []*types.KGError) map[string]any {
	violations := make([]validationViolation, 0, len(errs))
	for _, e := range errs {
		violations = append(violations, validationViolation{
			Code:       e.Code,
			Message:    e.Message,
			Attributes: e.Attributes,
		})
	}
	return map[string]any{
		"valid":      len(errs) == 0,
		"violations": violations,
	}
}

// errorPayload is the client-facing form of a failed operation. Keeping the
// code, retryability, and typed detail fields machine-readable lets MCP
// clients decide between retrying, asking the user, and giving up.
type errorPayload struct {
	Code       types.ErrorCode `json:"code"`
	Message    string          `json:"message"`
	Retryable  bool            `json:"retryable"`
	Attributes []string        `json:"attributes,omitempty"`
	Candidates []types.ID      `json:"candidates,omitempty"`
	Context    map[string]any  `json:"context,omitempty"`
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	payload := errorPayload{Message: err.Error()}

	var kgErr *types.KGError
	if errors.As(err, &kgErr) {
		payload.Code = kgErr.Code
		payload.Message = kgErr.Error()
		payload.Retryable = kgErr.Retryable
		payload.Attributes = kgErr.Attributes
		payload.Candidates = kgErr.Candidates
		payload.Context = kgErr.Context
	}

	data, merr := json.MarshalIndent(payload, "", "  ")
	if merr != nil {
		return nil, merr
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(data)}},
	}, nil
}

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(data)}},
	}, nil
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func argInt(args map[string]any, key string) int {
	switch n := args[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func argObject(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}

func entityArg(args map[string]any, key string) kg.EntityInput {
	obj := argObject(args, key)
	return kg.EntityInput{
		Type:       argString(obj, "type"),
		Attributes: argObject(obj, "attributes"),
	}
}

func objectSchema(props map[string]any, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}
