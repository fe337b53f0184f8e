// Package kg implements the schema-governed management layer of the knowledge
// graph: entity and relationship validation, identity-based deduplication,
// guarded mutations, and aggregate analytics. All writes go through this
// package; nothing else talks to the storage engine directly.
package kg

import (
	"context"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/graph"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

// EntityInput is a caller-supplied entity payload: a declared entity type name
// plus its attribute map.
type EntityInput struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

// EdgeInput is a caller-supplied relationship payload. Both endpoints are full
// entity payloads; upserting an edge upserts its endpoints first.
type EdgeInput struct {
	Type       string         `json:"type"`
	From       EntityInput    `json:"from"`
	To         EntityInput    `json:"to"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// AttributeConflict records an attribute where the incoming value disagreed
// with the stored value. Merges keep the stored value and report the conflict.
type AttributeConflict struct {
	Attribute string `json:"attribute"`
	Existing  any    `json:"existing"`
	Incoming  any    `json:"incoming"`
}

// MatchCandidate is an existing node considered a duplicate of an incoming
// entity, with its similarity score.
type MatchCandidate struct {
	Node       graph.NodeRecord `json:"node"`
	Similarity float64          `json:"similarity"`
}

// UpsertNodeResult reports the outcome of a node upsert.
type UpsertNodeResult struct {
	NodeID     string              `json:"node_id"`
	EntityType string              `json:"entity_type"`
	Created    bool                `json:"created"`
	Similarity float64             `json:"similarity,omitempty"`
	Conflicts  []AttributeConflict `json:"conflicts,omitempty"`
}

// UpsertEdgeResult reports the outcome of an edge upsert, including the
// endpoint upserts it performed.
type UpsertEdgeResult struct {
	EdgeID  string            `json:"edge_id"`
	Type    string            `json:"type"`
	Created bool              `json:"created"`
	From    *UpsertNodeResult `json:"from"`
	To      *UpsertNodeResult `json:"to"`
}

// DeleteNodeResult reports the outcome of a node deletion.
type DeleteNodeResult struct {
	NodeID       string `json:"node_id"`
	EdgesRemoved int64  `json:"edges_removed"`
}

// GraphStats is an aggregate snapshot of the graph.
type GraphStats struct {
	TotalNodes       int64            `json:"total_nodes"`
	TotalEdges       int64            `json:"total_edges"`
	NodesByType      map[string]int64 `json:"nodes_by_type"`
	EdgesByType      map[string]int64 `json:"edges_by_type"`
	UnusedTypes      []string         `json:"unused_types,omitempty"`
	UndeclaredLabels []string         `json:"undeclared_labels,omitempty"`
}

// MutationService is the write surface of the knowledge graph.
type MutationService interface {
	UpsertNode(ctx context.Context, input EntityInput) (*UpsertNodeResult, error)
	UpdateNode(ctx context.Context, nodeID string, attrs map[string]any) (*UpsertNodeResult, error)
	UpsertEdge(ctx context.Context, input EdgeInput) (*UpsertEdgeResult, error)
	DeleteNode(ctx context.Context, nodeID string, detach bool) (*DeleteNodeResult, error)
	DeleteEdge(ctx context.Context, edgeID string) error
	GetNode(ctx context.Context, nodeID string) (*graph.NodeRecord, error)
}

// AnalyticsService is the read-only aggregate surface of the knowledge graph.
type AnalyticsService interface {
	Stats(ctx context.Context) (*GraphStats, error)
	Degree(ctx context.Context, nodeID string) (graph.Degree, error)
	QueryNodes(ctx context.Context, entityType string, filters map[string]any, limit int) ([]graph.NodeRecord, error)
	QueryEdges(ctx context.Context, relType string, limit int) ([]graph.EdgeRecord, error)
	OrphanNodes(ctx context.Context, entityType string, limit int) ([]graph.NodeRecord, error)
	Health(ctx context.Context) types.HealthStatus
}
