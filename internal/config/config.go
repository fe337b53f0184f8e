// Package config defines the application configuration and its loader.
// Configuration is layered: built-in defaults, then an optional YAML file,
// then KGMCP_* environment variable overrides. String values support
// ${ENV_VAR} interpolation so secrets stay out of config files.
package config

import (
	"fmt"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/graph"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/kg"
	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

// Transport names for the MCP server.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Config is the root application configuration.
type Config struct {
	Schema     SchemaConfig        `yaml:"schema" json:"schema" mapstructure:"schema"`
	Graph      graph.Config        `yaml:"graph" json:"graph" mapstructure:"graph"`
	Normalizer kg.NormalizerConfig `yaml:"normalizer" json:"normalizer" mapstructure:"normalizer"`
	Mutation   kg.MutatorConfig    `yaml:"mutation" json:"mutation" mapstructure:"mutation"`
	Server     ServerConfig        `yaml:"server" json:"server" mapstructure:"server"`
	Log        LogConfig           `yaml:"log" json:"log" mapstructure:"log"`
}

// SchemaConfig locates the schema definition to govern the graph.
type SchemaConfig struct {
	// Dir is the directory holding schema YAML files.
	Dir string `yaml:"dir" json:"dir" mapstructure:"dir"`

	// Name is the schema to load, without the .yaml extension.
	Name string `yaml:"name" json:"name" mapstructure:"name"`
}

// ServerConfig configures the MCP server transport.
type ServerConfig struct {
	// Transport is "stdio" or "sse".
	Transport string `yaml:"transport" json:"transport" mapstructure:"transport"`

	// Address is the listen address for the SSE transport.
	Address string `yaml:"address" json:"address" mapstructure:"address"`

	// TracingEnabled wraps the services with OpenTelemetry spans.
	TracingEnabled bool `yaml:"tracing_enabled" json:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level" mapstructure:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format" json:"format" mapstructure:"format"`
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Schema.Dir == "" {
		c.Schema.Dir = "schemas"
	}
	if c.Schema.Name == "" {
		c.Schema.Name = "software_engineering"
	}

	defaults := graph.DefaultConfig()
	if c.Graph.URI == "" {
		c.Graph.URI = defaults.URI
	}
	if c.Graph.Username == "" {
		c.Graph.Username = defaults.Username
	}
	if c.Graph.Password == "" {
		c.Graph.Password = defaults.Password
	}
	if c.Graph.MaxConnectionPoolSize == 0 {
		c.Graph.MaxConnectionPoolSize = defaults.MaxConnectionPoolSize
	}
	if c.Graph.ConnectionTimeout == 0 {
		c.Graph.ConnectionTimeout = defaults.ConnectionTimeout
	}
	if c.Graph.MaxTransactionRetryTime == 0 {
		c.Graph.MaxTransactionRetryTime = defaults.MaxTransactionRetryTime
	}

	c.Normalizer.ApplyDefaults()
	c.Mutation.ApplyDefaults()

	if c.Server.Transport == "" {
		c.Server.Transport = TransportStdio
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Schema.Name == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "schema.name cannot be empty")
	}
	if err := c.Graph.Validate(); err != nil {
		return err
	}
	if c.Normalizer.SimilarityThreshold <= 0 || c.Normalizer.SimilarityThreshold > 1 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("normalizer.similarity_threshold must be in (0, 1], got %v", c.Normalizer.SimilarityThreshold))
	}
	if c.Mutation.MaxRetries < 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "mutation.max_retries cannot be negative")
	}

	switch c.Server.Transport {
	case TransportStdio, TransportSSE:
	default:
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("server.transport must be %q or %q, got %q", TransportStdio, TransportSSE, c.Server.Transport))
	}
	if c.Server.Transport == TransportSSE && c.Server.Address == "" {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "server.address required for sse transport")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("log.format %q is not one of json, text", c.Log.Format))
	}

	return nil
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}
