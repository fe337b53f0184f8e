package kg

import (
	"context"
	"sort"
	"strings"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/graph"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/schema"
)

// NormalizerConfig tunes duplicate detection.
type NormalizerConfig struct {
	// SimilarityThreshold is the minimum score for an existing node to count
	// as a duplicate of an incoming entity. Exact identity matches score 1.0.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold" mapstructure:"similarity_threshold"`

	// MaxCandidates bounds how many qualifying candidates are reported in a
	// disambiguation error.
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates" mapstructure:"max_candidates"`
}

// ApplyDefaults fills in zero values with defaults.
func (c *NormalizerConfig) ApplyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.85
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = 10
	}
}

// Normalizer detects duplicates of incoming entities among stored nodes of
// the same type. Matching is purely lexical over the identity key: normalized
// exact match first, token-overlap similarity as a fallback. There is no
// semantic or embedding-based matching.
type Normalizer struct {
	config NormalizerConfig
}

// NewNormalizer creates a normalizer with the given configuration.
func NewNormalizer(config NormalizerConfig) *Normalizer {
	config.ApplyDefaults()
	return &Normalizer{config: config}
}

// NormalizeIdentity canonicalizes an identity value for comparison:
// lowercased, surrounding whitespace trimmed, inner whitespace runs collapsed
// to single spaces.
func NormalizeIdentity(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Similarity scores two identity values in [0, 1]. Equal normalized forms
// score 1.0; otherwise the score is the Jaccard overlap of their token sets.
func Similarity(a, b string) float64 {
	na, nb := NormalizeIdentity(a), NormalizeIdentity(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}

	tokensA := tokenSet(na)
	tokensB := tokenSet(nb)

	intersection := 0
	for token := range tokensA {
		if tokensB[token] {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// FindMatches returns the stored nodes of the entity type that qualify as
// duplicates of the incoming attributes, ordered by similarity descending,
// then update time descending, then node ID ascending. The comparison text is
// the declared identity key when the type has one, or the concatenation of
// its required string attributes otherwise.
func (n *Normalizer) FindMatches(ctx context.Context, client graph.Client, def schema.EntityTypeDef, attrs map[string]any) ([]MatchCandidate, error) {
	incoming := identityString(def, attrs)
	if incoming == "" {
		return nil, nil
	}

	nodes, err := client.NodesByType(ctx, def.Name)
	if err != nil {
		return nil, err
	}

	var candidates []MatchCandidate
	for _, node := range nodes {
		stored := identityString(def, node.Attributes)
		if stored == "" {
			continue
		}
		score := Similarity(incoming, stored)
		if score >= n.config.SimilarityThreshold {
			candidates = append(candidates, MatchCandidate{Node: node, Similarity: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		if !candidates[i].Node.UpdatedAt.Equal(candidates[j].Node.UpdatedAt) {
			return candidates[i].Node.UpdatedAt.After(candidates[j].Node.UpdatedAt)
		}
		return candidates[i].Node.ID < candidates[j].Node.ID
	})

	if len(candidates) > n.config.MaxCandidates {
		candidates = candidates[:n.config.MaxCandidates]
	}
	return candidates, nil
}

// IdentityOf extracts the normalized identity of an entity payload, or ""
// when the payload carries no identity-bearing text.
func IdentityOf(def schema.EntityTypeDef, attrs map[string]any) string {
	return NormalizeIdentity(identityString(def, attrs))
}

// identityString picks the raw identity-bearing text of a payload: the
// identity key attribute when the type declares one, otherwise its required
// string attributes joined in declaration-name order.
func identityString(def schema.EntityTypeDef, attrs map[string]any) string {
	if def.IdentityKey != "" {
		s, _ := attrs[def.IdentityKey].(string)
		return s
	}
	var parts []string
	for _, name := range def.RequiredAttributes() {
		if s, ok := attrs[name].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func tokenSet(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, token := range strings.Fields(s) {
		tokens[token] = true
	}
	return tokens
}
