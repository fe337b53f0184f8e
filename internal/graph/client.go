// Package graph defines the storage-engine boundary of the knowledge graph
// service: a Client interface over a graph database plus the Neo4j
// implementation and an in-memory mock for tests.
//
// The rest of the system only depends on the Client interface; nothing above
// this package speaks Cypher.
package graph

import (
	"context"
	"time"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

// NodeRecord is a request-scoped view of a stored node. The storage engine
// owns the node; callers never hold long-lived copies.
type NodeRecord struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// EdgeRecord is a request-scoped view of a stored edge.
type EdgeRecord struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	FromID     string         `json:"from_id"`
	ToID       string         `json:"to_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Degree holds the in/out edge counts of a node.
type Degree struct {
	In  int64 `json:"in"`
	Out int64 `json:"out"`
}

// Client provides an interface for graph database operations.
// Implementations must be thread-safe for concurrent access.
type Client interface {
	// Connect establishes a connection to the graph database.
	Connect(ctx context.Context) error

	// Close releases all resources and closes the database connection.
	Close(ctx context.Context) error

	// Health returns the current health status of the connection.
	Health(ctx context.Context) types.HealthStatus

	// CreateNode creates a node labeled with the entity type and returns the
	// engine-assigned opaque node ID.
	CreateNode(ctx context.Context, entityType string, attrs map[string]any) (string, error)

	// GetNode retrieves a node by its ID. Returns a NODE_NOT_FOUND error if
	// no node with that ID exists.
	GetNode(ctx context.Context, nodeID string) (*NodeRecord, error)

	// SetNodeAttributes merges attrs into the node's attribute map and
	// refreshes its update timestamp. Attributes absent from attrs are
	// preserved.
	SetNodeAttributes(ctx context.Context, nodeID string, attrs map[string]any) error

	// NodesByType returns all nodes of the given entity type.
	NodesByType(ctx context.Context, entityType string) ([]NodeRecord, error)

	// QueryNodes returns nodes of the given entity type whose attributes
	// equal every filter value, up to limit.
	QueryNodes(ctx context.Context, entityType string, filters map[string]any, limit int) ([]NodeRecord, error)

	// DeleteNode deletes a node. With detach set, incident edges are removed
	// as well; without it, deletion of a connected node fails.
	DeleteNode(ctx context.Context, nodeID string, detach bool) error

	// CreateEdge creates a typed, directed edge between two nodes and
	// returns the engine-assigned edge ID.
	CreateEdge(ctx context.Context, relType, fromID, toID string, attrs map[string]any) (string, error)

	// FindEdge looks up an edge of the given type between two nodes. Returns
	// an EDGE_NOT_FOUND error when no such edge exists.
	FindEdge(ctx context.Context, relType, fromID, toID string) (*EdgeRecord, error)

	// DeleteEdge deletes an edge by its ID. Returns an EDGE_NOT_FOUND error
	// if no edge with that ID exists.
	DeleteEdge(ctx context.Context, edgeID string) error

	// NodeDegree returns the in/out edge counts of a node.
	NodeDegree(ctx context.Context, nodeID string) (Degree, error)

	// NodeCountsByType returns the number of nodes per entity type.
	NodeCountsByType(ctx context.Context) (map[string]int64, error)

	// EdgesByType returns edges of the given relationship type with their
	// endpoint node IDs, up to limit.
	EdgesByType(ctx context.Context, relType string, limit int) ([]EdgeRecord, error)

	// EdgeCountsByType returns the number of edges per relationship type.
	EdgeCountsByType(ctx context.Context) (map[string]int64, error)

	// OrphanNodes returns nodes with no incident edges, optionally filtered
	// by entity type, up to limit.
	OrphanNodes(ctx context.Context, entityType string, limit int) ([]NodeRecord, error)
}

// Config contains configuration options for graph database clients.
type Config struct {
	// URI is the connection URI, e.g. "bolt://localhost:7687".
	URI string `yaml:"uri" json:"uri" mapstructure:"uri"`

	// Username for authentication.
	Username string `yaml:"username" json:"username" mapstructure:"username"`

	// Password for authentication.
	Password string `yaml:"password" json:"-" mapstructure:"password"`

	// Database name to connect to. Empty string uses the default database.
	Database string `yaml:"database" json:"database" mapstructure:"database"`

	// MaxConnectionPoolSize limits the number of connections in the pool.
	MaxConnectionPoolSize int `yaml:"max_connection_pool_size" json:"max_connection_pool_size" mapstructure:"max_connection_pool_size"`

	// ConnectionTimeout is the maximum time to wait for a connection.
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout" mapstructure:"connection_timeout"`

	// MaxTransactionRetryTime is the maximum time the driver retries failed
	// transactions internally.
	MaxTransactionRetryTime time.Duration `yaml:"max_transaction_retry_time" json:"max_transaction_retry_time" mapstructure:"max_transaction_retry_time"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URI:                     "bolt://localhost:7687",
		Username:                "neo4j",
		Password:                "password",
		MaxConnectionPoolSize:   50,
		ConnectionTimeout:       30 * time.Second,
		MaxTransactionRetryTime: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.URI == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "graph URI cannot be empty")
	}
	if c.Username == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "graph username cannot be empty")
	}
	if c.Password == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "graph password cannot be empty")
	}
	if c.ConnectionTimeout <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "ConnectionTimeout must be positive")
	}
	if c.MaxTransactionRetryTime <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "MaxTransactionRetryTime must be positive")
	}
	return nil
}
