package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	IPAddress string `yaml:"ip_address"`
	Port      string `yaml:"port"`
	Mode      string `yaml:"mode"`
}

type DatabaseConfig struct {
	// Driver is one of postgres, sqlite or memory.
	Driver           string `yaml:"driver"`
	ConnectionString string `yaml:"connection_string"`
	Path             string `yaml:"path"`
}

type LLMConfig struct {
	Endpoint          string   `yaml:"endpoint"`
	APIKey            string   `yaml:"api_key"`
	DefaultModel      string   `yaml:"default_model"`
	FallbackModels    []string `yaml:"fallback_models"`
	TimeoutSecs       int      `yaml:"timeout_secs"`
	StreamTimeoutSecs int      `yaml:"stream_timeout_secs"`
	Temperature       float64  `yaml:"temperature"`
}

type EmbeddingConfig struct {
	// Provider is openai or hash.
	Provider          string  `yaml:"provider"`
	Endpoint          string  `yaml:"endpoint"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries"`
}

type IngestConfig struct {
	ChunkSize    int   `yaml:"chunk_size"`
	ChunkOverlap int   `yaml:"chunk_overlap"`
	FetchTimeout int   `yaml:"fetch_timeout_secs"`
	MaxPDFBytes  int64 `yaml:"max_pdf_bytes"`
	Concurrency  int   `yaml:"concurrency"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr"`
	LockTTLSecs int    `yaml:"lock_ttl_secs"`
}

type QuotaConfig struct {
	FreeUploads int `yaml:"free_uploads"`
}

type MCPConfig struct {
	Address string `yaml:"address"`
	BaseURL string `yaml:"base_url"`
}

type AuthConfig struct {
	TokenRefreshSecs int      `yaml:"token_refresh_secs"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	Headers     string  `yaml:"headers"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Config is the root configuration. Values come from the YAML file, then
// .env, then the process environment, in increasing precedence.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Redis     RedisConfig     `yaml:"redis"`
	Quota     QuotaConfig     `yaml:"quota"`
	MCP       MCPConfig       `yaml:"mcp"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Load reads path (missing is fine), an optional .env file, and the
// environment, then applies defaults and validates.
func Load(path, envPath string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Models returns the ordered candidate list: default model first.
func (c *Config) Models() []string {
	models := []string{c.LLM.DefaultModel}
	for _, m := range c.LLM.FallbackModels {
		m = strings.TrimSpace(m)
		if m != "" && m != c.LLM.DefaultModel {
			models = append(models, m)
		}
	}
	return models
}

func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.IPAddress, c.Server.Port)
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.ConnectionString == "" {
			return errors.New("DB_CONNECTION_STRING is required for the postgres driver")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Embedding.Provider {
	case "openai", "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.IPAddress, "IP_ADDRESS")
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Mode, "APP_ENV")

	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.ConnectionString, "DB_CONNECTION_STRING")
	setString(&cfg.Database.Path, "DB_PATH")

	setString(&cfg.LLM.Endpoint, "LLM_ENDPOINT")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.LLM.DefaultModel, "LLM_DEFAULT_MODEL")
	if v := strings.TrimSpace(os.Getenv("LLM_FALLBACK_MODELS")); v != "" {
		cfg.LLM.FallbackModels = strings.Split(v, ",")
	}
	setInt(&cfg.LLM.TimeoutSecs, "LLM_TIMEOUT_SECS")
	setInt(&cfg.LLM.StreamTimeoutSecs, "LLM_STREAM_TIMEOUT_SECS")

	setString(&cfg.Embedding.Provider, "EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.Endpoint, "LLM_EMBEDDING_ENDPOINT")
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&cfg.Embedding.Dimensions, "EMBEDDING_DIMENSIONS")
	setInt(&cfg.Embedding.BatchSize, "EMBEDDING_BATCH_SIZE")

	setInt(&cfg.Ingest.ChunkSize, "CHUNK_SIZE")
	setInt(&cfg.Ingest.ChunkOverlap, "CHUNK_OVERLAP")
	setInt(&cfg.Retrieval.TopK, "RETRIEVAL_TOP_K")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setInt(&cfg.Quota.FreeUploads, "FREE_PLAN_UPLOADS")

	setString(&cfg.MCP.Address, "MCP_ADDRESS")
	setString(&cfg.MCP.BaseURL, "MCP_BASE_URL")

	setInt(&cfg.Auth.TokenRefreshSecs, "TOKEN_REFRESH_SECS")
	if v := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		cfg.Auth.AllowedOrigins = strings.Split(v, ",")
	}

	setBool(&cfg.Telemetry.Enabled, "OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.Headers, "OTEL_EXPORTER_OTLP_HEADERS")
	setBool(&cfg.Telemetry.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLER_RATIO")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Telemetry.SampleRatio = f
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "development"
	}
	if cfg.Database.Driver == "" {
		if cfg.Database.ConnectionString != "" {
			cfg.Database.Driver = "postgres"
		} else {
			cfg.Database.Driver = "sqlite"
		}
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "kagaz.db"
	}
	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "gemini-2.5-flash"
	}
	if cfg.LLM.FallbackModels == nil {
		cfg.LLM.FallbackModels = []string{"gemini-2.5-flash-lite"}
	}
	if cfg.LLM.TimeoutSecs <= 0 {
		cfg.LLM.TimeoutSecs = 60
	}
	if cfg.LLM.StreamTimeoutSecs <= 0 {
		cfg.LLM.StreamTimeoutSecs = 300
	}
	if cfg.Embedding.Provider == "" {
		if cfg.LLM.APIKey != "" {
			cfg.Embedding.Provider = "openai"
		} else {
			cfg.Embedding.Provider = "hash"
		}
	}
	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = cfg.LLM.Endpoint
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-004"
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.RequestsPerSecond <= 0 {
		cfg.Embedding.RequestsPerSecond = 5
	}
	if cfg.Embedding.TimeoutSecs <= 0 {
		cfg.Embedding.TimeoutSecs = 30
	}
	if cfg.Embedding.MaxRetries <= 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Ingest.ChunkSize <= 0 {
		cfg.Ingest.ChunkSize = 500
	}
	if cfg.Ingest.ChunkOverlap < 0 {
		cfg.Ingest.ChunkOverlap = 0
	}
	if cfg.Ingest.ChunkOverlap == 0 && cfg.Ingest.ChunkSize > 50 {
		cfg.Ingest.ChunkOverlap = 50
	}
	if cfg.Ingest.FetchTimeout <= 0 {
		cfg.Ingest.FetchTimeout = 30
	}
	if cfg.Ingest.MaxPDFBytes <= 0 {
		cfg.Ingest.MaxPDFBytes = 10 * 1024 * 1024
	}
	if cfg.Ingest.Concurrency <= 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Redis.LockTTLSecs <= 0 {
		cfg.Redis.LockTTLSecs = 120
	}
	if cfg.Quota.FreeUploads <= 0 {
		cfg.Quota.FreeUploads = 5
	}
	if cfg.MCP.Address == "" {
		cfg.MCP.Address = "127.0.0.1:8081"
	}
	if cfg.MCP.BaseURL == "" {
		host := cfg.MCP.Address
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		cfg.MCP.BaseURL = "http://" + host
	}
	if cfg.Auth.TokenRefreshSecs <= 0 {
		cfg.Auth.TokenRefreshSecs = 60
	}
	if len(cfg.Auth.AllowedOrigins) == 0 {
		cfg.Auth.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "kagaz"
	}
	if cfg.Telemetry.SampleRatio <= 0 || cfg.Telemetry.SampleRatio > 1 {
		cfg.Telemetry.SampleRatio = 0.1
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}
