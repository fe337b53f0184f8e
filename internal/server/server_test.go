package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/config"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/graph"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/kg"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/schema"
)

func newTestServer(t *testing.T) (*Server, *graph.MockClient) {
	t.Helper()

	reg, err := schema.NewRegistry(schema.Definition{
		Metadata: schema.Metadata{Version: "1.0.0", Name: "test", Categories: []string{"Component", "Data"}},
		EntityTypes: map[string]schema.EntityTypeDef{
			"Service": {
				Category:    "Component",
				IdentityKey: "name",
				Attributes: map[string]schema.AttributeDef{
					"name":    {Type: schema.AttributeTypeString, Required: true},
					"version": {Type: schema.AttributeTypeString},
				},
			},
			"Database": {
				Category:    "Data",
				IdentityKey: "name",
				Attributes: map[string]schema.AttributeDef{
					"name": {Type: schema.AttributeTypeString, Required: true},
				},
			},
		},
		Relationships: []schema.RelationshipRule{
			{Type: "DEPENDS_ON", From: "Service", To: "Database"},
		},
	})
	require.NoError(t, err)

	client := graph.NewMockClient()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mutator := kg.NewMutator(reg, client, kg.NewNormalizer(kg.NormalizerConfig{}), kg.MutatorConfig{
		RetryBaseDelay: time.Millisecond,
	}, logger)
	analytics := kg.NewAnalytics(reg, client)

	srv := New(config.ServerConfig{Transport: config.TransportStdio}, reg, mutator, analytics, "test", logger)
	return srv, client
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func TestHandleUpsertNode(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleUpsertNode(ctx, callReq("upsert_node", map[string]any{
		"type":       "Service",
		"attributes": map[string]any{"name": "billing"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["created"])
	assert.NotEmpty(t, payload["node_id"])
}

func TestHandleUpsertNode_SchemaError(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleUpsertNode(context.Background(), callReq("upsert_node", map[string]any{
		"type":       "Widget",
		"attributes": map[string]any{"name": "x"},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	payload := decodeResult(t, result)
	assert.Equal(t, "SCHEMA_UNKNOWN_ENTITY_TYPE", payload["code"])
	assert.Equal(t, false, payload["retryable"])
}

func TestHandleUpsertNode_DisambiguationPayload(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	id1, err := client.CreateNode(ctx, "Service", map[string]any{"name": "billing"})
	require.NoError(t, err)
	id2, err := client.CreateNode(ctx, "Service", map[string]any{"name": "Billing"})
	require.NoError(t, err)

	result, err := srv.handleUpsertNode(ctx, callReq("upsert_node", map[string]any{
		"type":       "Service",
		"attributes": map[string]any{"name": "BILLING"},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	payload := decodeResult(t, result)
	assert.Equal(t, "DISAMBIGUATION_REQUIRED", payload["code"])

	candidates, ok := payload["candidates"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{id1, id2}, candidates)
}

func TestHandleUpdateNode(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	id, err := client.CreateNode(ctx, "Service", map[string]any{"name": "billing", "version": "1.0"})
	require.NoError(t, err)

	result, err := srv.handleUpdateNode(ctx, callReq("update_node", map[string]any{
		"node_id":    id,
		"attributes": map[string]any{"version": "2.0"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := decodeResult(t, result)
	assert.Equal(t, id, payload["node_id"])
	assert.Equal(t, false, payload["created"])

	node, err := client.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "2.0", node.Attributes["version"])

	bad, err := srv.handleUpdateNode(ctx, callReq("update_node", map[string]any{
		"node_id":    id,
		"attributes": map[string]any{"owner": "x"},
	}))
	require.NoError(t, err)
	require.True(t, bad.IsError)
	assert.Equal(t, "SCHEMA_UNKNOWN_ATTRIBUTE", decodeResult(t, bad)["code"])
}

func TestHandleUpsertEdge(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleUpsertEdge(context.Background(), callReq("upsert_edge", map[string]any{
		"type": "DEPENDS_ON",
		"from": map[string]any{"type": "Service", "attributes": map[string]any{"name": "billing"}},
		"to":   map[string]any{"type": "Database", "attributes": map[string]any{"name": "billing-db"}},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["created"])
	assert.Equal(t, "DEPENDS_ON", payload["type"])
}

func TestHandleDeleteNode_Blocked(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	edgeResult, err := srv.handleUpsertEdge(ctx, callReq("upsert_edge", map[string]any{
		"type": "DEPENDS_ON",
		"from": map[string]any{"type": "Service", "attributes": map[string]any{"name": "billing"}},
		"to":   map[string]any{"type": "Database", "attributes": map[string]any{"name": "billing-db"}},
	}))
	require.NoError(t, err)
	edgePayload := decodeResult(t, edgeResult)
	fromID := edgePayload["from"].(map[string]any)["node_id"].(string)

	blocked, err := srv.handleDeleteNode(ctx, callReq("delete_node", map[string]any{"node_id": fromID}))
	require.NoError(t, err)
	require.True(t, blocked.IsError)
	assert.Equal(t, "DELETION_BLOCKED", decodeResult(t, blocked)["code"])

	detached, err := srv.handleDeleteNode(ctx, callReq("delete_node", map[string]any{
		"node_id": fromID,
		"detach":  true,
	}))
	require.NoError(t, err)
	require.False(t, detached.IsError)
	assert.Equal(t, float64(1), decodeResult(t, detached)["edges_removed"])
}

func TestHandleValidateEntity(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("valid", func(t *testing.T) {
		result, err := srv.handleValidateEntity(context.Background(), callReq("validate_entity", map[string]any{
			"type":       "Service",
			"attributes": map[string]any{"name": "billing"},
		}))
		require.NoError(t, err)
		payload := decodeResult(t, result)
		assert.Equal(t, true, payload["valid"])
	})

	t.Run("invalid reports all violations", func(t *testing.T) {
		result, err := srv.handleValidateEntity(context.Background(), callReq("validate_entity", map[string]any{
			"type":       "Service",
			"attributes": map[string]any{"owner": "x"},
		}))
		require.NoError(t, err)
		payload := decodeResult(t, result)
		assert.Equal(t, false, payload["valid"])
		assert.Len(t, payload["violations"], 2)
	})
}

func TestHandleValidateRelationship(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleValidateRelationship(context.Background(), callReq("validate_relationship", map[string]any{
		"type":      "DEPENDS_ON",
		"from_type": "Database",
		"to_type":   "Service",
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, false, payload["valid"])
}

func TestHandleGraphStats(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.CreateNode(ctx, "Service", map[string]any{"name": "billing"})
	require.NoError(t, err)

	result, err := srv.handleGraphStats(ctx, callReq("get_graph_stats", nil))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, float64(1), payload["total_nodes"])
	assert.Contains(t, payload["unused_types"], "Database")
}

func TestHandleNodeDegree(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	fromID, err := client.CreateNode(ctx, "Service", map[string]any{"name": "billing"})
	require.NoError(t, err)
	toID, err := client.CreateNode(ctx, "Database", map[string]any{"name": "billing-db"})
	require.NoError(t, err)
	_, err = client.CreateEdge(ctx, "DEPENDS_ON", fromID, toID, nil)
	require.NoError(t, err)

	result, err := srv.handleNodeDegree(ctx, callReq("get_node_degree", map[string]any{"node_id": toID}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, float64(1), payload["in"])
	assert.Equal(t, float64(0), payload["out"])

	missing, err := srv.handleNodeDegree(ctx, callReq("get_node_degree", map[string]any{"node_id": "nope"}))
	require.NoError(t, err)
	require.True(t, missing.IsError)
	assert.Equal(t, "NODE_NOT_FOUND", decodeResult(t, missing)["code"])
}

func TestHandleQueryNodes(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.CreateNode(ctx, "Service", map[string]any{"name": "billing", "version": "1.0"})
	require.NoError(t, err)
	_, err = client.CreateNode(ctx, "Service", map[string]any{"name": "payments", "version": "2.0"})
	require.NoError(t, err)

	result, err := srv.handleQueryNodes(ctx, callReq("query_graph_nodes", map[string]any{
		"entity_type": "Service",
		"filters":     map[string]any{"version": "2.0"},
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, float64(1), payload["count"])

	unknown, err := srv.handleQueryNodes(ctx, callReq("query_graph_nodes", map[string]any{
		"entity_type": "Widget",
	}))
	require.NoError(t, err)
	require.True(t, unknown.IsError)
	assert.Equal(t, "SCHEMA_UNKNOWN_ENTITY_TYPE", decodeResult(t, unknown)["code"])
}

func TestHandleQueryEdges(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	fromID, err := client.CreateNode(ctx, "Service", map[string]any{"name": "billing"})
	require.NoError(t, err)
	toID, err := client.CreateNode(ctx, "Database", map[string]any{"name": "billing-db"})
	require.NoError(t, err)
	edgeID, err := client.CreateEdge(ctx, "DEPENDS_ON", fromID, toID, nil)
	require.NoError(t, err)

	result, err := srv.handleQueryEdges(ctx, callReq("query_graph_relationships", map[string]any{
		"type": "DEPENDS_ON",
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, float64(1), payload["count"])

	edges, ok := payload["edges"].([]any)
	require.True(t, ok)
	edge := edges[0].(map[string]any)
	assert.Equal(t, edgeID, edge["id"])
	assert.Equal(t, fromID, edge["from_id"])
	assert.Equal(t, toID, edge["to_id"])
}

func TestHandleOrphanNodes(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.CreateNode(ctx, "Service", map[string]any{"name": "loner"})
	require.NoError(t, err)

	result, err := srv.handleOrphanNodes(ctx, callReq("find_orphan_nodes", map[string]any{}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, float64(1), payload["count"])
}

func TestHandleSchemaSummary(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleSchemaSummary(context.Background(), callReq("get_schema_summary", nil))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, float64(2), payload["entity_type_count"])
}

func TestHandleDescribeEntityType(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleDescribeEntityType(context.Background(), callReq("describe_entity_type", map[string]any{
		"type": "Service",
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.NotNil(t, payload["definition"])
	assert.NotEmpty(t, payload["relationships"])

	missing, err := srv.handleDescribeEntityType(context.Background(), callReq("describe_entity_type", map[string]any{
		"type": "Widget",
	}))
	require.NoError(t, err)
	require.True(t, missing.IsError)
	assert.Equal(t, "SCHEMA_UNKNOWN_ENTITY_TYPE", decodeResult(t, missing)["code"])
}

func TestHandleHealth(t *testing.T) {
	srv, client := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleHealth(ctx, callReq("graph_health", nil))
	require.NoError(t, err)
	assert.Equal(t, "healthy", decodeResult(t, result)["state"])

	require.NoError(t, client.Close(ctx))
	result, err = srv.handleHealth(ctx, callReq("graph_health", nil))
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", decodeResult(t, result)["state"])
}
