package kg

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/graph"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

const tracerName = "knowledge-graph-mcp/kg"

var (
	_ MutationService  = (*Mutator)(nil)
	_ MutationService  = (*TracedMutation)(nil)
	_ AnalyticsService = (*Analytics)(nil)
	_ AnalyticsService = (*TracedAnalytics)(nil)
)

// TracedMutation wraps a MutationService with OpenTelemetry spans.
type TracedMutation struct {
	inner  MutationService
	tracer trace.Tracer
}

// NewTracedMutation wraps the given mutation service.
func NewTracedMutation(inner MutationService) *TracedMutation {
	return &TracedMutation{
		inner:  inner,
		tracer: otel.Tracer(tracerName),
	}
}

func (t *TracedMutation) UpsertNode(ctx context.Context, input EntityInput) (*UpsertNodeResult, error) {
	ctx, span := t.tracer.Start(ctx, "kg.upsert_node",
		trace.WithAttributes(attribute.String("kg.entity_type", input.Type)))
	defer span.End()

	start := time.Now()
	result, err := t.inner.UpsertNode(ctx, input)
	finishSpan(span, start, err)
	if result != nil {
		span.SetAttributes(
			attribute.Bool("kg.created", result.Created),
			attribute.Int("kg.conflicts", len(result.Conflicts)),
		)
	}
	return result, err
}

func (t *TracedMutation) UpdateNode(ctx context.Context, nodeID string, attrs map[string]any) (*UpsertNodeResult, error) {
	ctx, span := t.tracer.Start(ctx, "kg.update_node",
		trace.WithAttributes(attribute.String("kg.node_id", nodeID)))
	defer span.End()

	start := time.Now()
	result, err := t.inner.UpdateNode(ctx, nodeID, attrs)
	finishSpan(span, start, err)
	return result, err
}

func (t *TracedMutation) UpsertEdge(ctx context.Context, input EdgeInput) (*UpsertEdgeResult, error) {
	ctx, span := t.tracer.Start(ctx, "kg.upsert_edge",
		trace.WithAttributes(
			attribute.String("kg.relationship_type", input.Type),
			attribute.String("kg.from_type", input.From.Type),
			attribute.String("kg.to_type", input.To.Type),
		))
	defer span.End()

	start := time.Now()
	result, err := t.inner.UpsertEdge(ctx, input)
	finishSpan(span, start, err)
	if result != nil {
		span.SetAttributes(attribute.Bool("kg.created", result.Created))
	}
	return result, err
}

func (t *TracedMutation) DeleteNode(ctx context.Context, nodeID string, detach bool) (*DeleteNodeResult, error) {
	ctx, span := t.tracer.Start(ctx, "kg.delete_node",
		trace.WithAttributes(
			attribute.String("kg.node_id", nodeID),
			attribute.Bool("kg.detach", detach),
		))
	defer span.End()

	start := time.Now()
	result, err := t.inner.DeleteNode(ctx, nodeID, detach)
	finishSpan(span, start, err)
	return result, err
}

func (t *TracedMutation) DeleteEdge(ctx context.Context, edgeID string) error {
	ctx, span := t.tracer.Start(ctx, "kg.delete_edge",
		trace.WithAttributes(attribute.String("kg.edge_id", edgeID)))
	defer span.End()

	start := time.Now()
	err := t.inner.DeleteEdge(ctx, edgeID)
	finishSpan(span, start, err)
	return err
}

func (t *TracedMutation) GetNode(ctx context.Context, nodeID string) (*graph.NodeRecord, error) {
	ctx, span := t.tracer.Start(ctx, "kg.get_node",
		trace.WithAttributes(attribute.String("kg.node_id", nodeID)))
	defer span.End()

	start := time.Now()
	node, err := t.inner.GetNode(ctx, nodeID)
	finishSpan(span, start, err)
	return node, err
}

// TracedAnalytics wraps an AnalyticsService with OpenTelemetry spans.
type TracedAnalytics struct {
	inner  AnalyticsService
	tracer trace.Tracer
}

// NewTracedAnalytics wraps the given analytics service.
func NewTracedAnalytics(inner AnalyticsService) *TracedAnalytics {
	return &TracedAnalytics{
		inner:  inner,
		tracer: otel.Tracer(tracerName),
	}
}

func (t *TracedAnalytics) Stats(ctx context.Context) (*GraphStats, error) {
	ctx, span := t.tracer.Start(ctx, "kg.stats")
	defer span.End()

	start := time.Now()
	stats, err := t.inner.Stats(ctx)
	finishSpan(span, start, err)
	if stats != nil {
		span.SetAttributes(
			attribute.Int64("kg.total_nodes", stats.TotalNodes),
			attribute.Int64("kg.total_edges", stats.TotalEdges),
		)
	}
	return stats, err
}

func (t *TracedAnalytics) Degree(ctx context.Context, nodeID string) (graph.Degree, error) {
	ctx, span := t.tracer.Start(ctx, "kg.degree",
		trace.WithAttributes(attribute.String("kg.node_id", nodeID)))
	defer span.End()

	start := time.Now()
	degree, err := t.inner.Degree(ctx, nodeID)
	finishSpan(span, start, err)
	return degree, err
}

func (t *TracedAnalytics) QueryNodes(ctx context.Context, entityType string, filters map[string]any, limit int) ([]graph.NodeRecord, error) {
	ctx, span := t.tracer.Start(ctx, "kg.query_nodes",
		trace.WithAttributes(
			attribute.String("kg.entity_type", entityType),
			attribute.Int("kg.filters", len(filters)),
		))
	defer span.End()

	start := time.Now()
	nodes, err := t.inner.QueryNodes(ctx, entityType, filters, limit)
	finishSpan(span, start, err)
	span.SetAttributes(attribute.Int("kg.results", len(nodes)))
	return nodes, err
}

func (t *TracedAnalytics) QueryEdges(ctx context.Context, relType string, limit int) ([]graph.EdgeRecord, error) {
	ctx, span := t.tracer.Start(ctx, "kg.query_edges",
		trace.WithAttributes(attribute.String("kg.relationship_type", relType)))
	defer span.End()

	start := time.Now()
	edges, err := t.inner.QueryEdges(ctx, relType, limit)
	finishSpan(span, start, err)
	span.SetAttributes(attribute.Int("kg.results", len(edges)))
	return edges, err
}

func (t *TracedAnalytics) OrphanNodes(ctx context.Context, entityType string, limit int) ([]graph.NodeRecord, error) {
	ctx, span := t.tracer.Start(ctx, "kg.orphan_nodes",
		trace.WithAttributes(
			attribute.String("kg.entity_type", entityType),
			attribute.Int("kg.limit", limit),
		))
	defer span.End()

	start := time.Now()
	nodes, err := t.inner.OrphanNodes(ctx, entityType, limit)
	finishSpan(span, start, err)
	span.SetAttributes(attribute.Int("kg.orphans", len(nodes)))
	return nodes, err
}

func (t *TracedAnalytics) Health(ctx context.Context) types.HealthStatus {
	ctx, span := t.tracer.Start(ctx, "kg.health")
	defer span.End()

	status := t.inner.Health(ctx)
	span.SetAttributes(attribute.String("kg.health_state", status.State.String()))
	return status
}

func finishSpan(span trace.Span, start time.Time, err error) {
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := types.CodeOf(err); code != "" {
			span.SetAttributes(attribute.String("kg.error_code", string(code)))
		}
		return
	}
	span.SetStatus(codes.Ok, "")
}
