package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VincentK1991/knowledge-graph-mcp/internal/types"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "schemas", cfg.Schema.Dir)
	assert.Equal(t, "software_engineering", cfg.Schema.Name)
	assert.Equal(t, "bolt://localhost:7687", cfg.Graph.URI)
	assert.Equal(t, 0.85, cfg.Normalizer.SimilarityThreshold)
	assert.Equal(t, 3, cfg.Mutation.MaxRetries)
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
schema:
  name: biology
graph:
  uri: bolt://graph:7687
  username: reader
  password: secret
mutation:
  max_retries: 5
  operation_timeout: 10s
server:
  transport: sse
  address: ":9090"
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "biology", cfg.Schema.Name)
	assert.Equal(t, "bolt://graph:7687", cfg.Graph.URI)
	assert.Equal(t, 5, cfg.Mutation.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Mutation.OperationTimeout)
	assert.Equal(t, TransportSSE, cfg.Server.Transport)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Omitted sections still get defaults.
	assert.Equal(t, "schemas", cfg.Schema.Dir)
	assert.Equal(t, 0.85, cfg.Normalizer.SimilarityThreshold)
}

func TestLoad_EnvInterpolation(t *testing.T) {
	t.Setenv("GRAPH_PASSWORD_TEST", "from-env")

	path := writeConfigFile(t, `
graph:
  password: ${GRAPH_PASSWORD_TEST}
  database: ${UNSET_VARIABLE_TEST}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Graph.Password)
	assert.Equal(t, "${UNSET_VARIABLE_TEST}", cfg.Graph.Database)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KGMCP_SCHEMA_NAME", "chemistry")
	t.Setenv("KGMCP_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "chemistry", cfg.Schema.Name)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_LOAD_FAILED, types.CodeOf(err))
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad transport", "server:\n  transport: websocket\n"},
		{"bad log level", "log:\n  level: verbose\n"},
		{"bad threshold", "normalizer:\n  similarity_threshold: 1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tt.content))
			require.Error(t, err)
			assert.Equal(t, types.CONFIG_VALIDATION_FAILED, types.CodeOf(err))
		})
	}
}
