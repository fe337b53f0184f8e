package kg

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/schema"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

// Validator checks entity and relationship payloads against a compiled schema
// registry. Validation is exhaustive: every violation in a payload is
// reported, not just the first one found.
type Validator struct {
	registry *schema.Registry
}

// NewValidator creates a validator bound to the given registry.
func NewValidator(registry *schema.Registry) *Validator {
	return &Validator{registry: registry}
}

// ValidateEntity checks an entity payload against its declared type. The
// returned slice is empty when the payload is valid.
func (v *Validator) ValidateEntity(entityType string, attrs map[string]any) []*types.KGError {
	def, ok := v.registry.EntityType(entityType)
	if !ok {
		return []*types.KGError{
			types.NewError(types.SCHEMA_UNKNOWN_ENTITY_TYPE,
				fmt.Sprintf("entity type %q is not declared in the schema", entityType)).
				WithContext("known_types", v.registry.EntityTypes()),
		}
	}

	var errs []*types.KGError

	var missing []string
	for _, name := range def.RequiredAttributes() {
		if _, present := attrs[name]; !present {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, types.NewError(types.SCHEMA_MISSING_REQUIRED_ATTRIBUTE,
			fmt.Sprintf("entity type %q is missing required attributes", entityType)).
			WithAttributes(missing...))
	}

	return append(errs, checkDeclaredAttributes(entityType, def, attrs)...)
}

// checkDeclaredAttributes reports the unknown attributes in attrs (sorted)
// and the value violations of the declared ones.
func checkDeclaredAttributes(entityType string, def schema.EntityTypeDef, attrs map[string]any) []*types.KGError {
	var errs []*types.KGError

	var unknown []string
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attrDef, declared := def.Attributes[name]
		if !declared {
			unknown = append(unknown, name)
			continue
		}
		if err := checkAttributeValue(entityType, name, attrDef, attrs[name]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(unknown) > 0 {
		errs = append(errs, types.NewError(types.SCHEMA_UNKNOWN_ATTRIBUTE,
			fmt.Sprintf("entity type %q does not declare these attributes", entityType)).
			WithAttributes(unknown...))
	}

	return errs
}

// ValidateAttributes checks attribute names and values against an entity type
// without requiring the payload to be complete. Used for partial updates of
// an existing node, where the stored node already satisfies the required set.
func (v *Validator) ValidateAttributes(entityType string, attrs map[string]any) []*types.KGError {
	def, ok := v.registry.EntityType(entityType)
	if !ok {
		return []*types.KGError{
			types.NewError(types.SCHEMA_UNKNOWN_ENTITY_TYPE,
				fmt.Sprintf("entity type %q is not declared in the schema", entityType)).
				WithContext("known_types", v.registry.EntityTypes()),
		}
	}
	return checkDeclaredAttributes(entityType, def, attrs)
}

// ValidateRelationship checks that the (fromType, relType, toType) triple is
// permitted by the schema. The returned slice is empty when it is.
func (v *Validator) ValidateRelationship(relType, fromType, toType string) []*types.KGError {
	var errs []*types.KGError

	relDef, relKnown := v.registry.RelationshipType(relType)
	if !relKnown {
		errs = append(errs, types.NewError(types.SCHEMA_UNKNOWN_RELATIONSHIP_TYPE,
			fmt.Sprintf("relationship type %q is not declared in the schema", relType)).
			WithContext("known_types", v.registry.RelationshipTypes()))
	}

	for _, endpoint := range []string{fromType, toType} {
		if _, ok := v.registry.EntityType(endpoint); !ok {
			errs = append(errs, types.NewError(types.SCHEMA_UNKNOWN_ENTITY_TYPE,
				fmt.Sprintf("entity type %q is not declared in the schema", endpoint)).
				WithContext("known_types", v.registry.EntityTypes()))
		}
	}
	if len(errs) > 0 {
		return errs
	}

	if !relDef.Allows(fromType, toType) {
		errs = append(errs, types.NewError(types.SCHEMA_DISALLOWED_RELATIONSHIP,
			fmt.Sprintf("relationship %s from %s to %s is not permitted", relType, fromType, toType)).
			WithContext("allowed_pairs", relDef.AllowedPairs))
	}
	return errs
}

// combineViolations folds a non-empty violation list into a single error
// carrying every violation message, so callers get the full report even
// through a plain error return.
func combineViolations(errs []*types.KGError) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}

	messages := make([]string, len(errs))
	for i, e := range errs {
		messages[i] = e.Error()
	}
	return errs[0].WithContext("violations", messages)
}

// checkAttributeValue verifies a single attribute value against its
// declaration: declared scalar type, and enum membership for strings.
func checkAttributeValue(entityType, name string, def schema.AttributeDef, value any) *types.KGError {
	if value == nil {
		return types.NewError(types.SCHEMA_INVALID_ATTRIBUTE_VALUE,
			fmt.Sprintf("attribute %q of %s must not be null", name, entityType)).
			WithAttributes(name)
	}

	if !valueMatchesType(def.Type, value) {
		return types.NewError(types.SCHEMA_INVALID_ATTRIBUTE_VALUE,
			fmt.Sprintf("attribute %q of %s must be of type %s, got %T", name, entityType, def.Type, value)).
			WithAttributes(name)
	}

	if len(def.Enum) > 0 {
		s, ok := value.(string)
		if !ok {
			return types.NewError(types.SCHEMA_INVALID_ATTRIBUTE_VALUE,
				fmt.Sprintf("attribute %q of %s has an enum and must be a string", name, entityType)).
				WithAttributes(name)
		}
		for _, allowed := range def.Enum {
			if s == allowed {
				return nil
			}
		}
		return types.NewError(types.SCHEMA_INVALID_ATTRIBUTE_VALUE,
			fmt.Sprintf("attribute %q of %s must be one of %v, got %q", name, entityType, def.Enum, s)).
			WithAttributes(name)
	}

	return nil
}

// valueMatchesType checks a dynamic value against a declared attribute type.
// Numeric checks accept JSON-decoded float64 values for integer attributes as
// long as they are whole numbers.
func valueMatchesType(t schema.AttributeType, value any) bool {
	switch t {
	case schema.AttributeTypeString:
		_, ok := value.(string)
		return ok
	case schema.AttributeTypeBoolean:
		_, ok := value.(bool)
		return ok
	case schema.AttributeTypeInteger:
		switch n := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		default:
			return false
		}
	case schema.AttributeTypeFloat:
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		default:
			return false
		}
	case schema.AttributeTypeArray:
		kind := reflect.ValueOf(value).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	default:
		return false
	}
}
