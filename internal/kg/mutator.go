package kg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/graph"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/schema"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

// MutatorConfig tunes mutation behavior.
type MutatorConfig struct {
	// MaxRetries is how many times a retryable storage failure is retried
	// before the operation fails with TRANSIENT_CONFLICT.
	MaxRetries int `yaml:"max_retries" json:"max_retries" mapstructure:"max_retries"`

	// RetryBaseDelay is the backoff delay before the first retry; it doubles
	// per attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" json:"retry_base_delay" mapstructure:"retry_base_delay"`

	// OperationTimeout bounds each mutation end to end.
	OperationTimeout time.Duration `yaml:"operation_timeout" json:"operation_timeout" mapstructure:"operation_timeout"`
}

// ApplyDefaults fills in zero values with defaults.
func (c *MutatorConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 50 * time.Millisecond
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = 30 * time.Second
	}
}

// Mutator performs all graph writes. Every write is validated against the
// schema first; node upserts additionally pass through duplicate detection
// while holding a per-identity lock, so concurrent upserts of the same
// logical entity serialize instead of racing into duplicates.
type Mutator struct {
	registry   *schema.Registry
	client     graph.Client
	validator  *Validator
	normalizer *Normalizer
	config     MutatorConfig
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*identityLock
}

type identityLock struct {
	ch   chan struct{}
	refs int
}

// NewMutator creates a mutation service over the given registry and storage
// client.
func NewMutator(registry *schema.Registry, client graph.Client, normalizer *Normalizer, config MutatorConfig, logger *slog.Logger) *Mutator {
	config.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{
		registry:   registry,
		client:     client,
		validator:  NewValidator(registry),
		normalizer: normalizer,
		config:     config,
		logger:     logger,
		locks:      make(map[string]*identityLock),
	}
}

// Validator exposes the mutator's validator for read-only validation calls.
func (m *Mutator) Validator() *Validator {
	return m.validator
}

// UpsertNode validates an entity payload, deduplicates it against stored
// nodes of the same type, and either creates a node or merges into the single
// qualifying match. Two or more qualifying matches fail with
// DISAMBIGUATION_REQUIRED rather than guessing.
func (m *Mutator) UpsertNode(ctx context.Context, input EntityInput) (*UpsertNodeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	if err := combineViolations(m.validator.ValidateEntity(input.Type, input.Attributes)); err != nil {
		return nil, err
	}
	def, _ := m.registry.EntityType(input.Type)

	if identity := IdentityOf(def, input.Attributes); identity != "" {
		release, err := m.lockIdentity(ctx, input.Type+"\x00"+identity)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var result *UpsertNodeResult
	err := m.withRetry(ctx, "upsert_node", func() error {
		var err error
		result, err = m.upsertNodeLocked(ctx, def, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mutator) upsertNodeLocked(ctx context.Context, def schema.EntityTypeDef, input EntityInput) (*UpsertNodeResult, error) {
	candidates, err := m.normalizer.FindMatches(ctx, m.client, def, input.Attributes)
	if err != nil {
		return nil, err
	}

	switch {
	case len(candidates) == 0:
		return m.createNode(ctx, input)

	case len(candidates) == 1:
		return m.mergeNode(ctx, input, candidates[0])

	default:
		ids := make([]types.ID, len(candidates))
		for i, c := range candidates {
			ids[i] = types.ID(c.Node.ID)
		}
		m.logger.Warn("ambiguous upsert",
			"entity_type", input.Type,
			"candidates", len(candidates))
		return nil, types.NewError(types.DISAMBIGUATION_REQUIRED,
			fmt.Sprintf("%d existing %s nodes match this entity", len(candidates), input.Type)).
			WithCandidates(ids...).
			WithContext("top_similarity", candidates[0].Similarity)
	}
}

func (m *Mutator) createNode(ctx context.Context, input EntityInput) (*UpsertNodeResult, error) {
	nodeID, err := m.client.CreateNode(ctx, input.Type, input.Attributes)
	if err != nil {
		return nil, err
	}
	m.logger.Info("node created", "entity_type", input.Type, "node_id", nodeID)
	return &UpsertNodeResult{
		NodeID:     nodeID,
		EntityType: input.Type,
		Created:    true,
	}, nil
}

// mergeNode folds the incoming attributes into the matched node. The merge is
// conservative: stored values win, only attributes absent from the node are
// written, and disagreements are reported as conflicts. Nothing is deleted.
func (m *Mutator) mergeNode(ctx context.Context, input EntityInput, match MatchCandidate) (*UpsertNodeResult, error) {
	additions := make(map[string]any)
	var conflicts []AttributeConflict

	for name, incoming := range input.Attributes {
		existing, present := match.Node.Attributes[name]
		if !present {
			additions[name] = incoming
			continue
		}
		if !reflect.DeepEqual(existing, incoming) {
			conflicts = append(conflicts, AttributeConflict{
				Attribute: name,
				Existing:  existing,
				Incoming:  incoming,
			})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Attribute < conflicts[j].Attribute })

	if len(additions) > 0 {
		if err := m.client.SetNodeAttributes(ctx, match.Node.ID, additions); err != nil {
			return nil, err
		}
	}

	m.logger.Debug("node merged",
		"entity_type", input.Type,
		"node_id", match.Node.ID,
		"similarity", match.Similarity,
		"conflicts", len(conflicts))

	return &UpsertNodeResult{
		NodeID:     match.Node.ID,
		EntityType: input.Type,
		Created:    false,
		Similarity: match.Similarity,
		Conflicts:  conflicts,
	}, nil
}

// UpdateNode writes attributes onto a specific node by ID, bypassing
// duplicate detection. This is the resolution path for
// DISAMBIGUATION_REQUIRED: the caller picks one of the reported candidates
// and re-issues the write against it. Unlike an upsert merge, the provided
// values overwrite the stored ones; attributes not named are preserved.
func (m *Mutator) UpdateNode(ctx context.Context, nodeID string, attrs map[string]any) (*UpsertNodeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	node, err := m.client.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if err := combineViolations(m.validator.ValidateAttributes(node.EntityType, attrs)); err != nil {
		return nil, err
	}

	err = m.withRetry(ctx, "update_node", func() error {
		return m.client.SetNodeAttributes(ctx, nodeID, attrs)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("node updated",
		"entity_type", node.EntityType,
		"node_id", nodeID,
		"attributes", len(attrs))
	return &UpsertNodeResult{
		NodeID:     nodeID,
		EntityType: node.EntityType,
		Created:    false,
	}, nil
}

// UpsertEdge upserts both endpoint entities, re-reads their stored types, and
// creates the edge if the triple is permitted and no identical edge exists.
func (m *Mutator) UpsertEdge(ctx context.Context, input EdgeInput) (*UpsertEdgeResult, error) {
	if err := combineViolations(m.validator.ValidateRelationship(input.Type, input.From.Type, input.To.Type)); err != nil {
		return nil, err
	}

	fromResult, err := m.UpsertNode(ctx, input.From)
	if err != nil {
		return nil, err
	}
	toResult, err := m.UpsertNode(ctx, input.To)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	// The endpoints may have merged into pre-existing nodes; check the triple
	// against the labels actually stored, not the payload's claims.
	fromNode, err := m.client.GetNode(ctx, fromResult.NodeID)
	if err != nil {
		return nil, err
	}
	toNode, err := m.client.GetNode(ctx, toResult.NodeID)
	if err != nil {
		return nil, err
	}
	if err := combineViolations(m.validator.ValidateRelationship(input.Type, fromNode.EntityType, toNode.EntityType)); err != nil {
		return nil, err
	}

	existing, err := m.client.FindEdge(ctx, input.Type, fromNode.ID, toNode.ID)
	if err == nil {
		return &UpsertEdgeResult{
			EdgeID:  existing.ID,
			Type:    input.Type,
			Created: false,
			From:    fromResult,
			To:      toResult,
		}, nil
	}
	if !errors.Is(err, types.NewError(types.EDGE_NOT_FOUND, "")) {
		return nil, err
	}

	var edgeID string
	err = m.withRetry(ctx, "upsert_edge", func() error {
		var err error
		edgeID, err = m.client.CreateEdge(ctx, input.Type, fromNode.ID, toNode.ID, input.Attributes)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("edge created",
		"type", input.Type,
		"from", fromNode.ID,
		"to", toNode.ID)

	return &UpsertEdgeResult{
		EdgeID:  edgeID,
		Type:    input.Type,
		Created: true,
		From:    fromResult,
		To:      toResult,
	}, nil
}

// DeleteNode deletes a node. A connected node is only deleted when detach is
// set, in which case its edges are removed with it; otherwise the call fails
// with DELETION_BLOCKED so callers never cascade by accident.
func (m *Mutator) DeleteNode(ctx context.Context, nodeID string, detach bool) (*DeleteNodeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	degree, err := m.client.NodeDegree(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	total := degree.In + degree.Out

	if total > 0 && !detach {
		return nil, types.NewError(types.DELETION_BLOCKED,
			fmt.Sprintf("node %s still has %d edges; pass detach to remove them", nodeID, total)).
			WithContext("in_degree", degree.In).
			WithContext("out_degree", degree.Out)
	}

	err = m.withRetry(ctx, "delete_node", func() error {
		return m.client.DeleteNode(ctx, nodeID, detach)
	})
	if err != nil {
		return nil, err
	}

	removed := int64(0)
	if detach {
		removed = total
	}
	m.logger.Info("node deleted", "node_id", nodeID, "edges_removed", removed)
	return &DeleteNodeResult{NodeID: nodeID, EdgesRemoved: removed}, nil
}

// DeleteEdge deletes an edge by ID.
func (m *Mutator) DeleteEdge(ctx context.Context, edgeID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	err := m.withRetry(ctx, "delete_edge", func() error {
		return m.client.DeleteEdge(ctx, edgeID)
	})
	if err != nil {
		return err
	}
	m.logger.Info("edge deleted", "edge_id", edgeID)
	return nil
}

// GetNode retrieves a node by ID.
func (m *Mutator) GetNode(ctx context.Context, nodeID string) (*graph.NodeRecord, error) {
	return m.client.GetNode(ctx, nodeID)
}

// lockIdentity acquires the lock for one (entity type, identity) pair and
// returns its release function. The wait is bounded by ctx, so an upsert
// stuck behind a pile-up fails within its operation timeout instead of
// queueing indefinitely. Locks are reference counted so the table does not
// grow with the number of distinct identities ever seen.
func (m *Mutator) lockIdentity(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &identityLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			m.unrefIdentity(key, l)
		}, nil
	case <-ctx.Done():
		m.unrefIdentity(key, l)
		kgErr := types.WrapError(types.TRANSIENT_CONFLICT,
			"timed out waiting for concurrent writes to the same identity", ctx.Err())
		kgErr.Retryable = true
		return nil, kgErr
	}
}

func (m *Mutator) unrefIdentity(key string, l *identityLock) {
	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

// withRetry runs fn, retrying with doubling backoff while it fails with a
// retryable error. Exhausting the budget converts the failure into a
// retryable TRANSIENT_CONFLICT for the caller to surface.
func (m *Mutator) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := m.config.RetryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return types.WrapError(types.STORAGE_TIMEOUT,
					fmt.Sprintf("%s cancelled while retrying", op), ctx.Err())
			}
			m.logger.Debug("retrying operation", "op", op, "attempt", attempt)
		}

		lastErr = fn()
		if lastErr == nil || !types.IsRetryable(lastErr) {
			return lastErr
		}
	}

	kgErr := types.WrapError(types.TRANSIENT_CONFLICT,
		fmt.Sprintf("%s failed after %d attempts", op, m.config.MaxRetries+1), lastErr)
	kgErr.Retryable = true
	return kgErr
}
