package config

import (
	"bytes"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

// envPrefix namespaces environment overrides, e.g. KGMCP_GRAPH_URI.
const envPrefix = "KGMCP"

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// Load builds the configuration from an optional YAML file plus environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
				"failed to read config file", err).WithContext("path", path)
		}
		if err := v.ReadConfig(bytes.NewReader(expandEnvVars(raw))); err != nil {
			return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
				"failed to parse config file", err).WithContext("path", path)
		}
	}

	// Bind the keys we expect so AutomaticEnv overrides apply even when the
	// file omits them.
	for _, key := range []string{
		"schema.dir", "schema.name",
		"graph.uri", "graph.username", "graph.password", "graph.database",
		"graph.max_connection_pool_size", "graph.connection_timeout", "graph.max_transaction_retry_time",
		"normalizer.similarity_threshold", "normalizer.max_candidates",
		"mutation.max_retries", "mutation.retry_base_delay", "mutation.operation_timeout",
		"server.transport", "server.address", "server.tracing_enabled",
		"log.level", "log.format",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to bind environment", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
			"failed to decode configuration", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with the environment value when
// the variable is set, leaving unset references untouched.
func expandEnvVars(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if value, ok := os.LookupEnv(string(name)); ok {
			return []byte(value)
		}
		return match
	})
}
