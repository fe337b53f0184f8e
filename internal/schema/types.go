package schema

// AttributeType enumerates the scalar attribute types a schema may declare.
type AttributeType string

const (
	AttributeTypeString  AttributeType = "string"
	AttributeTypeInteger AttributeType = "integer"
	AttributeTypeFloat   AttributeType = "float"
	AttributeTypeBoolean AttributeType = "boolean"
	AttributeTypeArray   AttributeType = "array"
)

// IsValid checks if the AttributeType is one of the declared types.
func (t AttributeType) IsValid() bool {
	switch t {
	case AttributeTypeString, AttributeTypeInteger, AttributeTypeFloat,
		AttributeTypeBoolean, AttributeTypeArray:
		return true
	default:
		return false
	}
}

// Metadata describes a schema definition file.
type Metadata struct {
	Version     string   `yaml:"version" json:"version"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Categories  []string `yaml:"categories" json:"categories"`
}

// AttributeDef declares a single attribute of an entity type.
type AttributeDef struct {
	Type        AttributeType `yaml:"type" json:"type"`
	Required    bool          `yaml:"required" json:"required"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Enum        []string      `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// EntityTypeDef declares an entity type: its category, the attribute used as
// its natural identity key (if any), and its attribute definitions.
// Immutable after registry construction.
type EntityTypeDef struct {
	Name        string                  `yaml:"-" json:"name"`
	Category    string                  `yaml:"category" json:"category"`
	Description string                  `yaml:"description,omitempty" json:"description,omitempty"`
	IdentityKey string                  `yaml:"identity_key,omitempty" json:"identity_key,omitempty"`
	Attributes  map[string]AttributeDef `yaml:"properties" json:"properties"`
}

// RequiredAttributes returns the sorted names of required attributes.
func (d *EntityTypeDef) RequiredAttributes() []string {
	return sortedNames(d.Attributes, func(a AttributeDef) bool { return a.Required })
}

// OptionalAttributes returns the sorted names of optional attributes.
func (d *EntityTypeDef) OptionalAttributes() []string {
	return sortedNames(d.Attributes, func(a AttributeDef) bool { return !a.Required })
}

// HasAttribute reports whether the attribute name is declared (required or
// optional) for this entity type.
func (d *EntityTypeDef) HasAttribute(name string) bool {
	_, ok := d.Attributes[name]
	return ok
}

// RelationshipRule declares one allowed (from, type, to) triple in the
// definition file.
type RelationshipRule struct {
	Type        string `yaml:"type" json:"type"`
	From        string `yaml:"from" json:"from"`
	To          string `yaml:"to" json:"to"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// EndpointPair is one allowed (source entity type, target entity type) pair
// for a relationship type.
type EndpointPair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RelationshipTypeDef declares a relationship type and the set of endpoint
// type pairs it is allowed between. Immutable after registry construction.
type RelationshipTypeDef struct {
	Name         string         `json:"name"`
	AllowedPairs []EndpointPair `json:"allowed_pairs"`
}

// Allows reports whether the (from, to) endpoint pair is allowed.
func (d *RelationshipTypeDef) Allows(from, to string) bool {
	for _, p := range d.AllowedPairs {
		if p.From == from && p.To == to {
			return true
		}
	}
	return false
}

// Definition is the parsed form of one schema definition file.
type Definition struct {
	Metadata      Metadata                 `yaml:"metadata" json:"metadata"`
	EntityTypes   map[string]EntityTypeDef `yaml:"entity_types" json:"entity_types"`
	Relationships []RelationshipRule       `yaml:"relationships" json:"relationships"`
}

// Summary is an aggregate view of a compiled registry, grouping entity types
// by category and listing relationship types.
type Summary struct {
	Metadata          Metadata            `json:"metadata"`
	EntityTypeCount   int                 `json:"entity_type_count"`
	RelationshipCount int                 `json:"relationship_count"`
	TypesByCategory   map[string][]string `json:"types_by_category"`
	RelationshipTypes []string            `json:"relationship_types"`
}
