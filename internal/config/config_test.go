package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"IP_ADDRESS", "PORT", "APP_ENV", "DB_DRIVER", "DB_CONNECTION_STRING", "DB_PATH",
		"LLM_ENDPOINT", "LLM_API_KEY", "LLM_DEFAULT_MODEL", "LLM_FALLBACK_MODELS",
		"EMBEDDING_PROVIDER", "LLM_EMBEDDING_ENDPOINT", "CHUNK_SIZE", "CHUNK_OVERLAP",
		"REDIS_ADDR", "FREE_PLAN_UPLOADS", "OTEL_ENABLED", "OTEL_SAMPLER_RATIO",
		"CORS_ALLOWED_ORIGINS", "MCP_ADDRESS", "MCP_BASE_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 50, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 5, cfg.Quota.FreeUploads)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}, cfg.Models())
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.1, cfg.Telemetry.SampleRatio)
	assert.Equal(t, 60, cfg.Auth.TokenRefreshSecs)
	assert.Equal(t, "127.0.0.1:8081", cfg.MCP.Address)
	assert.Equal(t, "http://127.0.0.1:8081", cfg.MCP.BaseURL)
}

func TestMCPBaseURLForPortOnlyAddress(t *testing.T) {
	clearEnv(t)
	t.Setenv("MCP_ADDRESS", ":9090")

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9090", cfg.MCP.BaseURL)
}

func TestTelemetryFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLER_RATIO", "0.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRatio)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Auth.AllowedOrigins)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  default_model: from-file
ingest:
  chunk_size: 300
`), 0o644))
	t.Setenv("LLM_DEFAULT_MODEL", "from-env")
	t.Setenv("LLM_FALLBACK_MODELS", "b, c")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Ingest.ChunkSize)
	assert.Equal(t, []string{"from-env", "b", "c"}, cfg.Models())
}

func TestDotenvIsLoaded(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("PORT")
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("PORT=9191\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PORT") })

	cfg, err := Load("", envPath)
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.ListenAddress())
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)

	t.Setenv("DB_DRIVER", "postgres")
	_, err := Load("", "")
	assert.Error(t, err)

	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("CHUNK_SIZE", "40")
	t.Setenv("CHUNK_OVERLAP", "40")
	_, err = Load("", "")
	assert.Error(t, err)
}
