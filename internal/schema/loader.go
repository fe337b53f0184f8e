package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

// Loader reads schema definition files from a directory.
// Definitions are plain YAML files named <schema>.yaml.
type Loader struct {
	dir string
}

// NewLoader creates a Loader rooted at the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load parses the named schema definition and compiles it into a Registry.
// Loading fails fatally (the process cannot start) on a missing file,
// malformed YAML, or an internally inconsistent definition.
func (l *Loader) Load(name string) (*Registry, error) {
	def, err := l.LoadDefinition(name)
	if err != nil {
		return nil, err
	}
	return NewRegistry(def)
}

// LoadDefinition parses the named schema definition without compiling it.
func (l *Loader) LoadDefinition(name string) (Definition, error) {
	path := filepath.Join(l.dir, name+".yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, types.WrapError(types.SCHEMA_LOAD_FAILED,
			fmt.Sprintf("schema %q not found in %s", name, l.dir), err).
			WithContext("available", l.Available())
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, types.WrapError(types.SCHEMA_LOAD_FAILED,
			fmt.Sprintf("failed to parse schema %q", name), err)
	}

	if len(def.EntityTypes) == 0 {
		return Definition{}, types.NewError(types.SCHEMA_INVALID,
			fmt.Sprintf("schema %q declares no entity types", name))
	}

	return def, nil
}

// Available lists the schema names (file stems) present in the directory.
func (l *Loader) Available() []string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names
}
