package kg

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/graph"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/schema"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

const (
	defaultOrphanLimit = 100
	defaultQueryLimit  = 100
)

// Analytics provides read-only aggregate views over the graph. It never
// mutates anything and is safe for concurrent use.
type Analytics struct {
	registry *schema.Registry
	client   graph.Client
}

// NewAnalytics creates an analytics service over the given registry and
// storage client.
func NewAnalytics(registry *schema.Registry, client graph.Client) *Analytics {
	return &Analytics{registry: registry, client: client}
}

// Stats gathers node and edge counts, fanning the count queries out in
// parallel. It also cross-references the counts against the schema: declared
// entity types with no stored nodes, and stored labels the schema does not
// declare (left over from earlier schema versions).
func (a *Analytics) Stats(ctx context.Context) (*GraphStats, error) {
	var nodeCounts, edgeCounts map[string]int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodeCounts, err = a.client.NodeCountsByType(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		edgeCounts, err = a.client.EdgeCountsByType(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &GraphStats{
		NodesByType: nodeCounts,
		EdgesByType: edgeCounts,
	}
	for _, count := range nodeCounts {
		stats.TotalNodes += count
	}
	for _, count := range edgeCounts {
		stats.TotalEdges += count
	}

	for _, name := range a.registry.EntityTypes() {
		if nodeCounts[name] == 0 {
			stats.UnusedTypes = append(stats.UnusedTypes, name)
		}
	}
	declared := make(map[string]bool)
	for _, name := range a.registry.EntityTypes() {
		declared[name] = true
	}
	for label := range nodeCounts {
		if !declared[label] {
			stats.UndeclaredLabels = append(stats.UndeclaredLabels, label)
		}
	}

	return stats, nil
}

// OrphanNodes returns nodes with no incident edges. An empty entityType
// means all types; a non-positive limit uses the default.
func (a *Analytics) OrphanNodes(ctx context.Context, entityType string, limit int) ([]graph.NodeRecord, error) {
	if entityType != "" {
		if _, ok := a.registry.EntityType(entityType); !ok {
			return nil, types.NewError(types.SCHEMA_UNKNOWN_ENTITY_TYPE,
				"entity type "+entityType+" is not declared in the schema").
				WithContext("known_types", a.registry.EntityTypes())
		}
	}
	if limit <= 0 {
		limit = defaultOrphanLimit
	}
	return a.client.OrphanNodes(ctx, entityType, limit)
}

// Degree returns the incoming and outgoing edge counts of a node.
func (a *Analytics) Degree(ctx context.Context, nodeID string) (graph.Degree, error) {
	return a.client.NodeDegree(ctx, nodeID)
}

// QueryNodes returns nodes of the given entity type whose attributes equal
// every filter value. A non-positive limit uses the default.
func (a *Analytics) QueryNodes(ctx context.Context, entityType string, filters map[string]any, limit int) ([]graph.NodeRecord, error) {
	if _, ok := a.registry.EntityType(entityType); !ok {
		return nil, types.NewError(types.SCHEMA_UNKNOWN_ENTITY_TYPE,
			"entity type "+entityType+" is not declared in the schema").
			WithContext("known_types", a.registry.EntityTypes())
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	return a.client.QueryNodes(ctx, entityType, filters, limit)
}

// QueryEdges returns edges of the given relationship type. A non-positive
// limit uses the default.
func (a *Analytics) QueryEdges(ctx context.Context, relType string, limit int) ([]graph.EdgeRecord, error) {
	if _, ok := a.registry.RelationshipType(relType); !ok {
		return nil, types.NewError(types.SCHEMA_UNKNOWN_RELATIONSHIP_TYPE,
			"relationship type "+relType+" is not declared in the schema").
			WithContext("known_types", a.registry.RelationshipTypes())
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	return a.client.EdgesByType(ctx, relType, limit)
}

// Health reports the health of the storage connection.
func (a *Analytics) Health(ctx context.Context) types.HealthStatus {
	return a.client.Health(ctx)
}
