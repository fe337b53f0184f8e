// Package schema holds the closed set of entity types, relationship types,
// and allowed relationship triples that govern the knowledge graph.
//
// A Registry is compiled once at startup from a YAML definition and is
// read-only afterwards, so it is safe for unsynchronized concurrent reads.
// Schema changes require a full reload into a fresh Registry; there is no
// partial patching.
package schema

import (
	"fmt"
	"sort"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

// Registry provides lookup access to a compiled schema definition.
type Registry struct {
	metadata      Metadata
	categories    map[string]bool
	entityTypes   map[string]EntityTypeDef
	relationships map[string]RelationshipTypeDef
}

// NewRegistry compiles a parsed Definition into an immutable Registry.
// Compilation fails if the definition is internally inconsistent:
//   - a relationship rule references an undeclared entity type
//   - an entity type declares a category outside metadata.categories
//   - an identity key names an undeclared attribute
//   - an attribute declares an unknown type
func NewRegistry(def Definition) (*Registry, error) {
	categories := make(map[string]bool, len(def.Metadata.Categories))
	for _, c := range def.Metadata.Categories {
		categories[c] = true
	}

	entityTypes := make(map[string]EntityTypeDef, len(def.EntityTypes))
	for name, et := range def.EntityTypes {
		et.Name = name

		if len(categories) > 0 && !categories[et.Category] {
			return nil, types.NewError(types.SCHEMA_INVALID,
				fmt.Sprintf("entity type %q declares unknown category %q", name, et.Category))
		}
		if et.IdentityKey != "" && !et.HasAttribute(et.IdentityKey) {
			return nil, types.NewError(types.SCHEMA_INVALID,
				fmt.Sprintf("entity type %q identity key %q is not a declared attribute", name, et.IdentityKey))
		}
		for attrName, attr := range et.Attributes {
			if !attr.Type.IsValid() {
				return nil, types.NewError(types.SCHEMA_INVALID,
					fmt.Sprintf("entity type %q attribute %q has invalid type %q", name, attrName, attr.Type))
			}
		}

		entityTypes[name] = et
	}

	relationships := make(map[string]RelationshipTypeDef)
	for _, rule := range def.Relationships {
		if rule.Type == "" {
			return nil, types.NewError(types.SCHEMA_INVALID, "relationship rule with empty type")
		}
		if _, ok := entityTypes[rule.From]; !ok {
			return nil, types.NewError(types.SCHEMA_INVALID,
				fmt.Sprintf("relationship %q references undeclared source entity type %q", rule.Type, rule.From))
		}
		if _, ok := entityTypes[rule.To]; !ok {
			return nil, types.NewError(types.SCHEMA_INVALID,
				fmt.Sprintf("relationship %q references undeclared target entity type %q", rule.Type, rule.To))
		}

		rel := relationships[rule.Type]
		rel.Name = rule.Type
		rel.AllowedPairs = append(rel.AllowedPairs, EndpointPair{From: rule.From, To: rule.To})
		relationships[rule.Type] = rel
	}

	return &Registry{
		metadata:      def.Metadata,
		categories:    categories,
		entityTypes:   entityTypes,
		relationships: relationships,
	}, nil
}

// Metadata returns the schema metadata.
func (r *Registry) Metadata() Metadata {
	return r.metadata
}

// EntityType looks up an entity type definition by name.
func (r *Registry) EntityType(name string) (EntityTypeDef, bool) {
	def, ok := r.entityTypes[name]
	return def, ok
}

// RelationshipType looks up a relationship type definition by name.
func (r *Registry) RelationshipType(name string) (RelationshipTypeDef, bool) {
	def, ok := r.relationships[name]
	return def, ok
}

// IsRelationshipAllowed reports whether the (fromType, relType, toType)
// triple appears in the schema's allowed pairs.
func (r *Registry) IsRelationshipAllowed(relType, fromType, toType string) bool {
	def, ok := r.relationships[relType]
	if !ok {
		return false
	}
	return def.Allows(fromType, toType)
}

// EntityTypes returns the sorted names of all declared entity types.
func (r *Registry) EntityTypes() []string {
	names := make([]string, 0, len(r.entityTypes))
	for name := range r.entityTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RelationshipTypes returns the sorted names of all declared relationship types.
func (r *Registry) RelationshipTypes() []string {
	names := make([]string, 0, len(r.relationships))
	for name := range r.relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RelationshipsFor returns all relationship rules in which the entity type
// appears as source or target, sorted by relationship name then endpoints.
func (r *Registry) RelationshipsFor(entityType string) []RelationshipRule {
	var rules []RelationshipRule
	for _, name := range r.RelationshipTypes() {
		def := r.relationships[name]
		for _, p := range def.AllowedPairs {
			if p.From == entityType || p.To == entityType {
				rules = append(rules, RelationshipRule{Type: name, From: p.From, To: p.To})
			}
		}
	}
	return rules
}

// Summary builds an aggregate view of the registry for reporting.
func (r *Registry) Summary() Summary {
	byCategory := make(map[string][]string)
	for _, name := range r.EntityTypes() {
		cat := r.entityTypes[name].Category
		byCategory[cat] = append(byCategory[cat], name)
	}

	pairCount := 0
	for _, def := range r.relationships {
		pairCount += len(def.AllowedPairs)
	}

	return Summary{
		Metadata:          r.metadata,
		EntityTypeCount:   len(r.entityTypes),
		RelationshipCount: pairCount,
		TypesByCategory:   byCategory,
		RelationshipTypes: r.RelationshipTypes(),
	}
}

// sortedNames returns the sorted attribute names for which keep returns true.
func sortedNames(attrs map[string]AttributeDef, keep func(AttributeDef) bool) []string {
	var names []string
	for name, attr := range attrs {
		if keep(attr) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
