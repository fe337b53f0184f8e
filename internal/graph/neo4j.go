package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

// baseLabel is applied to every node in addition to its entity-type label so
// that aggregate queries can address all managed nodes uniformly.
const baseLabel = "Entity"

// Attribute keys managed by the client, not by callers.
const (
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
)

var _ Client = (*Neo4jClient)(nil)

// Neo4jClient implements Client for Neo4j graph databases.
// It provides connection pooling, automatic retries, and health monitoring.
type Neo4jClient struct {
	config Config
	driver neo4j.DriverWithContext
}

// NewNeo4jClient creates a new Neo4j client with the given configuration.
// The client must be connected via Connect() before use.
func NewNeo4jClient(config Config) (*Neo4jClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Neo4jClient{config: config}, nil
}

// Connect establishes a connection to the Neo4j database.
// Uses exponential backoff for connection retries.
func (c *Neo4jClient) Connect(ctx context.Context) error {
	auth := neo4j.BasicAuth(c.config.Username, c.config.Password, "")

	driverConfig := func(config *neo4j.Config) {
		config.MaxConnectionPoolSize = c.config.MaxConnectionPoolSize
		config.ConnectionAcquisitionTimeout = c.config.ConnectionTimeout
		config.MaxTransactionRetryTime = c.config.MaxTransactionRetryTime
	}

	var lastErr error
	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		driver, err := neo4j.NewDriverWithContext(c.config.URI, auth, driverConfig)
		if err == nil {
			err = driver.VerifyConnectivity(ctx)
			if err == nil {
				c.driver = driver
				return nil
			}
		}

		lastErr = err

		if ctx.Err() != nil {
			return types.WrapError(types.STORAGE_CONNECTION_FAILED,
				"connection attempt cancelled", ctx.Err())
		}

		delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > c.config.ConnectionTimeout {
			delay = c.config.ConnectionTimeout
		}

		select {
		case <-time.After(delay):
			continue
		case <-ctx.Done():
			return types.WrapError(types.STORAGE_CONNECTION_FAILED,
				"connection attempt cancelled", ctx.Err())
		}
	}

	return types.WrapError(types.STORAGE_CONNECTION_FAILED,
		fmt.Sprintf("failed to connect after %d attempts", maxRetries), lastErr)
}

// Close releases all resources and closes the database connection.
func (c *Neo4jClient) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}

	if err := c.driver.Close(ctx); err != nil {
		return types.WrapError(types.STORAGE_CONNECTION_FAILED,
			"failed to close driver", err)
	}

	c.driver = nil
	return nil
}

// Health returns the current health status of the Neo4j connection.
func (c *Neo4jClient) Health(ctx context.Context) types.HealthStatus {
	if c.driver == nil {
		return types.Unhealthy("driver not initialized")
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.driver.VerifyConnectivity(healthCtx); err != nil {
		// The driver's pool re-establishes connections on its own, so a
		// failed ping on a live driver is degraded rather than unhealthy.
		return types.Degraded(fmt.Sprintf("connectivity check failed: %v", err))
	}

	return types.Healthy("connected to Neo4j")
}

// CreateNode creates a node with the Entity base label plus the entity-type
// label, stamping creation and update timestamps.
func (c *Neo4jClient) CreateNode(ctx context.Context, entityType string, attrs map[string]any) (string, error) {
	cypher := fmt.Sprintf(
		"CREATE (n:%s:%s) SET n = $attrs, n.created_at = $now, n.updated_at = $now RETURN elementId(n) AS id",
		baseLabel, sanitizeLabel(entityType))

	records, err := c.executeWrite(ctx, cypher, map[string]any{
		"attrs": attrs,
		"now":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", types.NewError(types.STORAGE_QUERY_FAILED, "node creation returned no record")
	}

	id, _ := records[0]["id"].(string)
	return id, nil
}

// GetNode retrieves a node by its element ID.
func (c *Neo4jClient) GetNode(ctx context.Context, nodeID string) (*NodeRecord, error) {
	cypher := fmt.Sprintf(
		"MATCH (n:%s) WHERE elementId(n) = $id RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props",
		baseLabel)

	records, err := c.executeRead(ctx, cypher, map[string]any{"id": nodeID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", nodeID))
	}

	node := recordToNode(records[0])
	return &node, nil
}

// SetNodeAttributes merges attrs into the node's attribute map and refreshes
// the update timestamp. Existing attributes absent from attrs are preserved.
func (c *Neo4jClient) SetNodeAttributes(ctx context.Context, nodeID string, attrs map[string]any) error {
	cypher := fmt.Sprintf(
		"MATCH (n:%s) WHERE elementId(n) = $id SET n += $attrs, n.updated_at = $now RETURN elementId(n) AS id",
		baseLabel)

	records, err := c.executeWrite(ctx, cypher, map[string]any{
		"id":    nodeID,
		"attrs": attrs,
		"now":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", nodeID))
	}
	return nil
}

// NodesByType returns all nodes carrying the entity-type label.
func (c *Neo4jClient) NodesByType(ctx context.Context, entityType string) ([]NodeRecord, error) {
	cypher := fmt.Sprintf(
		"MATCH (n:%s:%s) RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props",
		baseLabel, sanitizeLabel(entityType))

	records, err := c.executeRead(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}

	nodes := make([]NodeRecord, 0, len(records))
	for _, rec := range records {
		nodes = append(nodes, recordToNode(rec))
	}
	return nodes, nil
}

// DeleteNode deletes a node by its element ID. With detach set the node's
// incident edges are removed too; without it, Neo4j rejects deletion of a
// connected node and the error is surfaced as a storage failure.
func (c *Neo4jClient) DeleteNode(ctx context.Context, nodeID string, detach bool) error {
	verb := "DELETE"
	if detach {
		verb = "DETACH DELETE"
	}
	cypher := fmt.Sprintf(
		"MATCH (n:%s) WHERE elementId(n) = $id WITH n, elementId(n) AS id %s n RETURN id",
		baseLabel, verb)

	records, err := c.executeWrite(ctx, cypher, map[string]any{"id": nodeID})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", nodeID))
	}
	return nil
}

// CreateEdge creates a typed, directed edge between two nodes by element ID.
func (c *Neo4jClient) CreateEdge(ctx context.Context, relType, fromID, toID string, attrs map[string]any) (string, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	cypher := fmt.Sprintf(`
		MATCH (from), (to)
		WHERE elementId(from) = $fromId AND elementId(to) = $toId
		CREATE (from)-[r:%s]->(to)
		SET r = $attrs
		RETURN elementId(r) AS id`, sanitizeRelType(relType))

	records, err := c.executeWrite(ctx, cypher, map[string]any{
		"fromId": fromID,
		"toId":   toID,
		"attrs":  attrs,
	})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", types.NewError(types.NODE_NOT_FOUND,
			"one or both endpoint nodes not found")
	}

	id, _ := records[0]["id"].(string)
	return id, nil
}

// FindEdge looks up an edge of the given type between two nodes.
func (c *Neo4jClient) FindEdge(ctx context.Context, relType, fromID, toID string) (*EdgeRecord, error) {
	cypher := fmt.Sprintf(`
		MATCH (from)-[r:%s]->(to)
		WHERE elementId(from) = $fromId AND elementId(to) = $toId
		RETURN elementId(r) AS id, type(r) AS relType, properties(r) AS props
		LIMIT 1`, sanitizeRelType(relType))

	records, err := c.executeRead(ctx, cypher, map[string]any{
		"fromId": fromID,
		"toId":   toID,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, types.NewError(types.EDGE_NOT_FOUND,
			fmt.Sprintf("no %s edge from %s to %s", relType, fromID, toID))
	}

	edge := &EdgeRecord{
		FromID:     fromID,
		ToID:       toID,
		Attributes: map[string]any{},
	}
	edge.ID, _ = records[0]["id"].(string)
	edge.Type, _ = records[0]["relType"].(string)
	if props, ok := records[0]["props"].(map[string]any); ok {
		edge.Attributes = props
	}
	return edge, nil
}

// DeleteEdge deletes an edge by its element ID.
func (c *Neo4jClient) DeleteEdge(ctx context.Context, edgeID string) error {
	cypher := "MATCH ()-[r]->() WHERE elementId(r) = $id WITH r, elementId(r) AS id DELETE r RETURN id"

	records, err := c.executeWrite(ctx, cypher, map[string]any{"id": edgeID})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return types.NewError(types.EDGE_NOT_FOUND,
			fmt.Sprintf("edge %s not found", edgeID))
	}
	return nil
}

// NodeDegree returns the incoming and outgoing edge counts of a node.
func (c *Neo4jClient) NodeDegree(ctx context.Context, nodeID string) (Degree, error) {
	cypher := fmt.Sprintf(`
		MATCH (n:%s) WHERE elementId(n) = $id
		OPTIONAL MATCH (n)<-[ri]-()
		WITH n, count(ri) AS inDegree
		OPTIONAL MATCH (n)-[ro]->()
		RETURN inDegree, count(ro) AS outDegree`, baseLabel)

	records, err := c.executeRead(ctx, cypher, map[string]any{"id": nodeID})
	if err != nil {
		return Degree{}, err
	}
	if len(records) == 0 {
		return Degree{}, types.NewError(types.NODE_NOT_FOUND,
			fmt.Sprintf("node %s not found", nodeID))
	}

	return Degree{
		In:  asInt64(records[0]["inDegree"]),
		Out: asInt64(records[0]["outDegree"]),
	}, nil
}

// NodeCountsByType returns the number of nodes per entity-type label.
func (c *Neo4jClient) NodeCountsByType(ctx context.Context) (map[string]int64, error) {
	cypher := fmt.Sprintf(`
		MATCH (n:%s)
		UNWIND labels(n) AS label
		WITH label, count(n) AS cnt
		WHERE label <> '%s'
		RETURN label, cnt`, baseLabel, baseLabel)

	records, err := c.executeRead(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(records))
	for _, rec := range records {
		label, _ := rec["label"].(string)
		counts[label] = asInt64(rec["cnt"])
	}
	return counts, nil
}

// EdgeCountsByType returns the number of edges per relationship type.
func (c *Neo4jClient) EdgeCountsByType(ctx context.Context) (map[string]int64, error) {
	cypher := "MATCH ()-[r]->() RETURN type(r) AS relType, count(r) AS cnt"

	records, err := c.executeRead(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(records))
	for _, rec := range records {
		relType, _ := rec["relType"].(string)
		counts[relType] = asInt64(rec["cnt"])
	}
	return counts, nil
}

// QueryNodes returns nodes of the given entity type whose attributes equal
// every filter value. Property names are parameterized via n[$key] so filter
// keys never reach the query text.
func (c *Neo4jClient) QueryNodes(ctx context.Context, entityType string, filters map[string]any, limit int) ([]NodeRecord, error) {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := map[string]any{"limit": limit}
	conds := make([]string, 0, len(keys))
	for i, k := range keys {
		keyParam := fmt.Sprintf("key%d", i)
		valParam := fmt.Sprintf("val%d", i)
		conds = append(conds, fmt.Sprintf("n[$%s] = $%s", keyParam, valParam))
		params[keyParam] = k
		params[valParam] = filters[k]
	}

	cypher := fmt.Sprintf("MATCH (n:%s:%s)", baseLabel, sanitizeLabel(entityType))
	if len(conds) > 0 {
		cypher += " WHERE " + strings.Join(conds, " AND ")
	}
	cypher += " RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props LIMIT $limit"

	records, err := c.executeRead(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	nodes := make([]NodeRecord, 0, len(records))
	for _, rec := range records {
		nodes = append(nodes, recordToNode(rec))
	}
	return nodes, nil
}

// EdgesByType returns edges of the given relationship type with their
// endpoint node IDs.
func (c *Neo4jClient) EdgesByType(ctx context.Context, relType string, limit int) ([]EdgeRecord, error) {
	cypher := fmt.Sprintf(`
		MATCH (from:%s)-[r:%s]->(to:%s)
		RETURN elementId(r) AS id, type(r) AS relType,
		       elementId(from) AS fromId, elementId(to) AS toId,
		       properties(r) AS props
		LIMIT $limit`, baseLabel, sanitizeRelType(relType), baseLabel)

	records, err := c.executeRead(ctx, cypher, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	edges := make([]EdgeRecord, 0, len(records))
	for _, rec := range records {
		edge := EdgeRecord{Attributes: map[string]any{}}
		edge.ID, _ = rec["id"].(string)
		edge.Type, _ = rec["relType"].(string)
		edge.FromID, _ = rec["fromId"].(string)
		edge.ToID, _ = rec["toId"].(string)
		if props, ok := rec["props"].(map[string]any); ok {
			edge.Attributes = props
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

// OrphanNodes returns nodes with no incident edges, optionally filtered by
// entity type.
func (c *Neo4jClient) OrphanNodes(ctx context.Context, entityType string, limit int) ([]NodeRecord, error) {
	label := baseLabel
	if entityType != "" {
		label = fmt.Sprintf("%s:%s", baseLabel, sanitizeLabel(entityType))
	}
	cypher := fmt.Sprintf(`
		MATCH (n:%s)
		WHERE NOT (n)--()
		RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props
		LIMIT $limit`, label)

	records, err := c.executeRead(ctx, cypher, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	nodes := make([]NodeRecord, 0, len(records))
	for _, rec := range records {
		nodes = append(nodes, recordToNode(rec))
	}
	return nodes, nil
}

// executeRead runs a Cypher query in a managed read transaction.
func (c *Neo4jClient) executeRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return c.execute(ctx, cypher, params, false)
}

// executeWrite runs a Cypher query in a managed write transaction.
func (c *Neo4jClient) executeWrite(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return c.execute(ctx, cypher, params, true)
}

func (c *Neo4jClient) execute(ctx context.Context, cypher string, params map[string]any, write bool) ([]map[string]any, error) {
	if c.driver == nil {
		return nil, types.NewError(types.STORAGE_CONNECTION_FAILED, "driver not connected")
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
	})
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}

		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}

		out := make([]map[string]any, 0, len(records))
		for _, record := range records {
			row := make(map[string]any, len(record.Keys))
			for i, key := range record.Keys {
				row[key] = record.Values[i]
			}
			out = append(out, row)
		}
		return out, nil
	}

	var result any
	var err error
	if write {
		result, err = session.ExecuteWrite(ctx, work)
	} else {
		result, err = session.ExecuteRead(ctx, work)
	}
	if err != nil {
		return nil, wrapNeo4jError(err)
	}

	return result.([]map[string]any), nil
}

// wrapNeo4jError converts driver errors into coded storage errors, marking
// transient failures as retryable so the mutation layer can retry them.
func wrapNeo4jError(err error) error {
	if neo4j.IsConnectivityError(err) {
		return types.WrapError(types.STORAGE_CONNECTION_FAILED, "connection to Neo4j lost", err)
	}

	kgErr := types.WrapError(types.STORAGE_QUERY_FAILED, "query execution failed", err)
	if neo4j.IsRetryable(err) {
		kgErr.Retryable = true
	}
	return kgErr
}

// recordToNode converts a raw result row into a NodeRecord, extracting the
// entity-type label and the managed timestamps from the property map.
func recordToNode(rec map[string]any) NodeRecord {
	node := NodeRecord{
		Attributes: map[string]any{},
	}
	node.ID, _ = rec["id"].(string)

	if labels, ok := rec["labels"].([]any); ok {
		for _, l := range labels {
			if s, ok := l.(string); ok && s != baseLabel {
				node.EntityType = s
				break
			}
		}
	}

	if props, ok := rec["props"].(map[string]any); ok {
		for k, v := range props {
			switch k {
			case attrCreatedAt:
				node.CreatedAt = parseTimestamp(v)
			case attrUpdatedAt:
				node.UpdatedAt = parseTimestamp(v)
			default:
				node.Attributes[k] = v
			}
		}
	}
	return node
}

func parseTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// sanitizeLabel makes an entity type safe for use as a Cypher label.
func sanitizeLabel(entityType string) string {
	s := strings.ReplaceAll(entityType, " ", "")
	return strings.ReplaceAll(s, "-", "_")
}

// sanitizeRelType makes a relationship type safe for use in Cypher.
func sanitizeRelType(relType string) string {
	s := strings.ToUpper(relType)
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "-", "_")
}
