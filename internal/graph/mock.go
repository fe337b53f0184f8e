package graph

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

var _ Client = (*MockClient)(nil)

// MockClient is an in-memory Client implementation for tests. It mirrors the
// Neo4j client's semantics, including merge-on-write attribute updates and
// the connected-node deletion restriction.
type MockClient struct {
	mu        sync.Mutex
	connected bool
	nodes     map[string]*NodeRecord
	edges     map[string]*EdgeRecord

	// failures maps an operation name ("CreateNode", "CreateEdge", ...) to a
	// count of injected transient failures remaining for that operation.
	failures map[string]int

	// now is swappable so tests can control timestamps.
	now func() time.Time
}

// NewMockClient creates an empty, connected mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		connected: true,
		nodes:     make(map[string]*NodeRecord),
		edges:     make(map[string]*EdgeRecord),
		failures:  make(map[string]int),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FailNext makes the next n calls to the named operation return a retryable
// storage error before succeeding again.
func (m *MockClient) FailNext(operation string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation] = n
}

// SetClock overrides the timestamp source.
func (m *MockClient) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MockClient) injectFailure(operation string) error {
	if m.failures[operation] > 0 {
		m.failures[operation]--
		return types.NewRetryableError(types.STORAGE_QUERY_FAILED,
			fmt.Sprintf("injected transient failure in %s", operation))
	}
	return nil
}

func (m *MockClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockClient) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockClient) Health(ctx context.Context) types.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return types.Unhealthy("not connected")
	}
	return types.Healthy("in-memory store")
}

func (m *MockClient) CreateNode(ctx context.Context, entityType string, attrs map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("CreateNode"); err != nil {
		return "", err
	}

	now := m.now()
	node := &NodeRecord{
		ID:         types.NewID().String(),
		EntityType: entityType,
		Attributes: copyAttrs(attrs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.nodes[node.ID] = node
	return node.ID, nil
}

func (m *MockClient) GetNode(ctx context.Context, nodeID string) (*NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("GetNode"); err != nil {
		return nil, err
	}

	node, ok := m.nodes[nodeID]
	if !ok {
		return nil, types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", nodeID))
	}
	snapshot := *node
	snapshot.Attributes = copyAttrs(node.Attributes)
	return &snapshot, nil
}

func (m *MockClient) SetNodeAttributes(ctx context.Context, nodeID string, attrs map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("SetNodeAttributes"); err != nil {
		return err
	}

	node, ok := m.nodes[nodeID]
	if !ok {
		return types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", nodeID))
	}
	for k, v := range attrs {
		node.Attributes[k] = v
	}
	node.UpdatedAt = m.now()
	return nil
}

func (m *MockClient) NodesByType(ctx context.Context, entityType string) ([]NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("NodesByType"); err != nil {
		return nil, err
	}

	var out []NodeRecord
	for _, node := range m.nodes {
		if node.EntityType != entityType {
			continue
		}
		snapshot := *node
		snapshot.Attributes = copyAttrs(node.Attributes)
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockClient) QueryNodes(ctx context.Context, entityType string, filters map[string]any, limit int) ([]NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("QueryNodes"); err != nil {
		return nil, err
	}

	var out []NodeRecord
	for _, node := range m.nodes {
		if node.EntityType != entityType {
			continue
		}
		matches := true
		for k, v := range filters {
			if !reflect.DeepEqual(node.Attributes[k], v) {
				matches = false
				break
			}
		}
		if !matches {
			continue
		}
		snapshot := *node
		snapshot.Attributes = copyAttrs(node.Attributes)
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockClient) EdgesByType(ctx context.Context, relType string, limit int) ([]EdgeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("EdgesByType"); err != nil {
		return nil, err
	}

	var out []EdgeRecord
	for _, edge := range m.edges {
		if edge.Type != relType {
			continue
		}
		snapshot := *edge
		snapshot.Attributes = copyAttrs(edge.Attributes)
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockClient) DeleteNode(ctx context.Context, nodeID string, detach bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("DeleteNode"); err != nil {
		return err
	}

	if _, ok := m.nodes[nodeID]; !ok {
		return types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", nodeID))
	}

	var incident []string
	for id, edge := range m.edges {
		if edge.FromID == nodeID || edge.ToID == nodeID {
			incident = append(incident, id)
		}
	}
	if len(incident) > 0 && !detach {
		return types.NewError(types.STORAGE_QUERY_FAILED,
			fmt.Sprintf("cannot delete node %s: still has relationships", nodeID))
	}
	for _, id := range incident {
		delete(m.edges, id)
	}
	delete(m.nodes, nodeID)
	return nil
}

func (m *MockClient) CreateEdge(ctx context.Context, relType, fromID, toID string, attrs map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("CreateEdge"); err != nil {
		return "", err
	}

	if _, ok := m.nodes[fromID]; !ok {
		return "", types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", fromID))
	}
	if _, ok := m.nodes[toID]; !ok {
		return "", types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", toID))
	}

	edge := &EdgeRecord{
		ID:         types.NewID().String(),
		Type:       relType,
		FromID:     fromID,
		ToID:       toID,
		Attributes: copyAttrs(attrs),
	}
	m.edges[edge.ID] = edge
	return edge.ID, nil
}

func (m *MockClient) FindEdge(ctx context.Context, relType, fromID, toID string) (*EdgeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("FindEdge"); err != nil {
		return nil, err
	}

	for _, edge := range m.edges {
		if edge.Type == relType && edge.FromID == fromID && edge.ToID == toID {
			snapshot := *edge
			snapshot.Attributes = copyAttrs(edge.Attributes)
			return &snapshot, nil
		}
	}
	return nil, types.NewError(types.EDGE_NOT_FOUND,
		fmt.Sprintf("no %s edge from %s to %s", relType, fromID, toID))
}

func (m *MockClient) DeleteEdge(ctx context.Context, edgeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("DeleteEdge"); err != nil {
		return err
	}

	if _, ok := m.edges[edgeID]; !ok {
		return types.NewError(types.EDGE_NOT_FOUND,
			fmt.Sprintf("edge %s not found", edgeID))
	}
	delete(m.edges, edgeID)
	return nil
}

func (m *MockClient) NodeDegree(ctx context.Context, nodeID string) (Degree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("NodeDegree"); err != nil {
		return Degree{}, err
	}

	if _, ok := m.nodes[nodeID]; !ok {
		return Degree{}, types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", nodeID))
	}

	var degree Degree
	for _, edge := range m.edges {
		if edge.ToID == nodeID {
			degree.In++
		}
		if edge.FromID == nodeID {
			degree.Out++
		}
	}
	return degree, nil
}

func (m *MockClient) NodeCountsByType(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("NodeCountsByType"); err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, node := range m.nodes {
		counts[node.EntityType]++
	}
	return counts, nil
}

func (m *MockClient) EdgeCountsByType(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("EdgeCountsByType"); err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, edge := range m.edges {
		counts[edge.Type]++
	}
	return counts, nil
}

func (m *MockClient) OrphanNodes(ctx context.Context, entityType string, limit int) ([]NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectFailure("OrphanNodes"); err != nil {
		return nil, err
	}

	connected := make(map[string]bool, len(m.edges)*2)
	for _, edge := range m.edges {
		connected[edge.FromID] = true
		connected[edge.ToID] = true
	}

	var out []NodeRecord
	for _, node := range m.nodes {
		if connected[node.ID] {
			continue
		}
		if entityType != "" && node.EntityType != entityType {
			continue
		}
		snapshot := *node
		snapshot.Attributes = copyAttrs(node.Attributes)
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
