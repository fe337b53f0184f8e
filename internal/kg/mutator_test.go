package kg

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/graph"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

func newTestMutator(t *testing.T, client graph.Client) *Mutator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMutator(testRegistry(t), client, NewNormalizer(NormalizerConfig{}), MutatorConfig{
		RetryBaseDelay: time.Millisecond,
	}, logger)
}

func TestMutator_UpsertNode_Create(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	result, err := m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"name": "billing", "version": "1.0"},
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "Service", result.EntityType)

	node, err := client.GetNode(ctx, result.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "billing", node.Attributes["name"])
}

func TestMutator_UpsertNode_Merge(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	first, err := m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"name": "billing", "version": "1.0"},
	})
	require.NoError(t, err)

	second, err := m.UpsertNode(ctx, EntityInput{
		Type: "Service",
		Attributes: map[string]any{
			"name":    "Billing",
			"version": "2.0",
			"public":  true,
		},
	})
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.NodeID, second.NodeID)
	assert.Equal(t, 1.0, second.Similarity)

	// Conflicting version is reported, not overwritten. The new attribute is
	// added.
	require.Len(t, second.Conflicts, 2)
	assert.Equal(t, "name", second.Conflicts[0].Attribute)
	assert.Equal(t, "version", second.Conflicts[1].Attribute)
	assert.Equal(t, "1.0", second.Conflicts[1].Existing)
	assert.Equal(t, "2.0", second.Conflicts[1].Incoming)

	node, err := client.GetNode(ctx, first.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "1.0", node.Attributes["version"])
	assert.Equal(t, true, node.Attributes["public"])

	nodes, err := client.NodesByType(ctx, "Service")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestMutator_UpsertNode_Invalid(t *testing.T) {
	ctx := context.Background()
	m := newTestMutator(t, graph.NewMockClient())

	_, err := m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"owner": "x"},
	})
	require.Error(t, err)
	assert.Equal(t, types.SCHEMA_MISSING_REQUIRED_ATTRIBUTE, types.CodeOf(err))

	var kgErr *types.KGError
	require.ErrorAs(t, err, &kgErr)
	assert.Len(t, kgErr.Context["violations"], 2)
}

func TestMutator_UpsertNode_Disambiguation(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	// Two stored nodes with the same normalized identity.
	id1, err := client.CreateNode(ctx, "Service", map[string]any{"name": "billing"})
	require.NoError(t, err)
	id2, err := client.CreateNode(ctx, "Service", map[string]any{"name": "Billing"})
	require.NoError(t, err)

	_, err = m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"name": "BILLING"},
	})
	require.Error(t, err)
	assert.Equal(t, types.DISAMBIGUATION_REQUIRED, types.CodeOf(err))
	assert.False(t, types.IsRetryable(err))

	var kgErr *types.KGError
	require.ErrorAs(t, err, &kgErr)
	assert.ElementsMatch(t, []types.ID{types.ID(id1), types.ID(id2)}, kgErr.Candidates)
}

func TestMutator_UpsertNode_ExactAndFuzzyMatchesStillAmbiguous(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	exactID, err := client.CreateNode(ctx, "Service",
		map[string]any{"name": "alpha beta gamma delta epsilon zeta"})
	require.NoError(t, err)
	// Clears the threshold without being exact (token overlap 6/7).
	fuzzyID, err := client.CreateNode(ctx, "Service",
		map[string]any{"name": "alpha beta gamma delta epsilon zeta eta"})
	require.NoError(t, err)

	// An exact identity match does not win over a second qualifying
	// candidate; any two or more matches require the caller to choose.
	_, err = m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"name": "Alpha Beta Gamma Delta Epsilon Zeta"},
	})
	require.Error(t, err)
	assert.Equal(t, types.DISAMBIGUATION_REQUIRED, types.CodeOf(err))

	var kgErr *types.KGError
	require.ErrorAs(t, err, &kgErr)
	assert.ElementsMatch(t, []types.ID{types.ID(exactID), types.ID(fuzzyID)}, kgErr.Candidates)

	// The candidates remain resolvable by explicit ID.
	result, err := m.UpdateNode(ctx, exactID, map[string]any{"version": "1.0"})
	require.NoError(t, err)
	assert.Equal(t, exactID, result.NodeID)
}

func TestMutator_UpsertNode_ConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	const workers = 8
	results := make([]*UpsertNodeResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.UpsertNode(ctx, EntityInput{
				Type:       "Service",
				Attributes: map[string]any{"name": "Billing Service"},
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if results[i].Created {
			created++
		}
		assert.Equal(t, results[0].NodeID, results[i].NodeID)
	}
	assert.Equal(t, 1, created)

	nodes, err := client.NodesByType(ctx, "Service")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestMutator_UpsertNode_LockWaitBounded(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMutator(testRegistry(t), client, NewNormalizer(NormalizerConfig{}), MutatorConfig{
		RetryBaseDelay:   time.Millisecond,
		OperationTimeout: 20 * time.Millisecond,
	}, logger)

	// Hold the identity lock so the upsert has to wait past its deadline.
	release, err := m.lockIdentity(ctx, "Service\x00billing service")
	require.NoError(t, err)

	_, err = m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"name": "Billing Service"},
	})
	require.Error(t, err)
	assert.Equal(t, types.TRANSIENT_CONFLICT, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))

	release()
	result, err := m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"name": "Billing Service"},
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
}

func TestMutator_UpdateNode(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	created, err := m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"name": "billing", "version": "1.0"},
	})
	require.NoError(t, err)

	t.Run("overwrites named attributes", func(t *testing.T) {
		result, err := m.UpdateNode(ctx, created.NodeID, map[string]any{"version": "2.0"})
		require.NoError(t, err)
		assert.False(t, result.Created)
		assert.Equal(t, "Service", result.EntityType)

		node, err := client.GetNode(ctx, created.NodeID)
		require.NoError(t, err)
		assert.Equal(t, "2.0", node.Attributes["version"])
		assert.Equal(t, "billing", node.Attributes["name"])
	})

	t.Run("rejects undeclared attributes", func(t *testing.T) {
		_, err := m.UpdateNode(ctx, created.NodeID, map[string]any{"owner": "x"})
		require.Error(t, err)
		assert.Equal(t, types.SCHEMA_UNKNOWN_ATTRIBUTE, types.CodeOf(err))
	})

	t.Run("rejects bad values", func(t *testing.T) {
		_, err := m.UpdateNode(ctx, created.NodeID, map[string]any{"replicas": "three"})
		require.Error(t, err)
		assert.Equal(t, types.SCHEMA_INVALID_ATTRIBUTE_VALUE, types.CodeOf(err))
	})

	t.Run("missing node", func(t *testing.T) {
		_, err := m.UpdateNode(ctx, "no-such-node", map[string]any{"version": "2.0"})
		assert.Equal(t, types.NODE_NOT_FOUND, types.CodeOf(err))
	})
}

func TestMutator_UpsertNode_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	client.FailNext("CreateNode", 2)

	result, err := m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"name": "billing"},
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
}

func TestMutator_UpsertNode_RetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	client.FailNext("CreateNode", 100)

	_, err := m.UpsertNode(ctx, EntityInput{
		Type:       "Service",
		Attributes: map[string]any{"name": "billing"},
	})
	require.Error(t, err)
	assert.Equal(t, types.TRANSIENT_CONFLICT, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
}

func TestMutator_UpsertEdge(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	input := EdgeInput{
		Type: "DEPENDS_ON",
		From: EntityInput{Type: "Service", Attributes: map[string]any{"name": "billing"}},
		To:   EntityInput{Type: "Database", Attributes: map[string]any{"name": "billing-db"}},
	}

	first, err := m.UpsertEdge(ctx, input)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.True(t, first.From.Created)
	assert.True(t, first.To.Created)
	assert.NotEmpty(t, first.EdgeID)

	// Idempotent: the second upsert reuses the nodes and the edge.
	second, err := m.UpsertEdge(ctx, input)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.False(t, second.From.Created)
	assert.Equal(t, first.EdgeID, second.EdgeID)

	edgeCounts, err := client.EdgeCountsByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), edgeCounts["DEPENDS_ON"])
}

func TestMutator_UpsertEdge_DisallowedTriple(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	_, err := m.UpsertEdge(ctx, EdgeInput{
		Type: "DEPENDS_ON",
		From: EntityInput{Type: "Database", Attributes: map[string]any{"name": "billing-db"}},
		To:   EntityInput{Type: "Service", Attributes: map[string]any{"name": "billing"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.SCHEMA_DISALLOWED_RELATIONSHIP, types.CodeOf(err))

	// Rejected before any endpoint was written.
	counts, err := client.NodeCountsByType(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestMutator_UpsertEdge_InvalidEndpoint(t *testing.T) {
	ctx := context.Background()
	m := newTestMutator(t, graph.NewMockClient())

	_, err := m.UpsertEdge(ctx, EdgeInput{
		Type: "DEPENDS_ON",
		From: EntityInput{Type: "Service", Attributes: map[string]any{"version": "1.0"}},
		To:   EntityInput{Type: "Database", Attributes: map[string]any{"name": "db"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.SCHEMA_MISSING_REQUIRED_ATTRIBUTE, types.CodeOf(err))
}

func TestMutator_DeleteNode(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	edge, err := m.UpsertEdge(ctx, EdgeInput{
		Type: "DEPENDS_ON",
		From: EntityInput{Type: "Service", Attributes: map[string]any{"name": "billing"}},
		To:   EntityInput{Type: "Database", Attributes: map[string]any{"name": "billing-db"}},
	})
	require.NoError(t, err)

	t.Run("connected node is blocked", func(t *testing.T) {
		_, err := m.DeleteNode(ctx, edge.From.NodeID, false)
		require.Error(t, err)
		assert.Equal(t, types.DELETION_BLOCKED, types.CodeOf(err))

		var kgErr *types.KGError
		require.ErrorAs(t, err, &kgErr)
		assert.Equal(t, int64(1), kgErr.Context["out_degree"])
	})

	t.Run("detach cascades", func(t *testing.T) {
		result, err := m.DeleteNode(ctx, edge.From.NodeID, true)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.EdgesRemoved)

		err = m.DeleteEdge(ctx, edge.EdgeID)
		assert.Equal(t, types.EDGE_NOT_FOUND, types.CodeOf(err))
	})

	t.Run("isolated node deletes without detach", func(t *testing.T) {
		result, err := m.DeleteNode(ctx, edge.To.NodeID, false)
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.EdgesRemoved)
	})

	t.Run("missing node", func(t *testing.T) {
		_, err := m.DeleteNode(ctx, "no-such-node", false)
		assert.Equal(t, types.NODE_NOT_FOUND, types.CodeOf(err))
	})
}

func TestMutator_DeleteEdge(t *testing.T) {
	ctx := context.Background()
	client := graph.NewMockClient()
	m := newTestMutator(t, client)

	edge, err := m.UpsertEdge(ctx, EdgeInput{
		Type: "DEPENDS_ON",
		From: EntityInput{Type: "Service", Attributes: map[string]any{"name": "billing"}},
		To:   EntityInput{Type: "Database", Attributes: map[string]any{"name": "billing-db"}},
	})
	require.NoError(t, err)

	require.NoError(t, m.DeleteEdge(ctx, edge.EdgeID))
	assert.Equal(t, types.EDGE_NOT_FOUND, types.CodeOf(m.DeleteEdge(ctx, edge.EdgeID)))
}
