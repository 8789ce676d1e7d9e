package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for askdb-engine.
// Configuration can come from a YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values.
// Secrets (passwords, API keys, signing keys) must only come from
// environment variables (yaml:"-" fields).
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8040"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Engine database (PostgreSQL) - conversations, pending-operation audit
	Database DatabaseConfig `yaml:"database"`

	// Redis (optional) - durable pending-operation store
	Redis RedisConfig `yaml:"redis"`

	// Target datasource the assistant answers questions about
	Datasource DatasourceConfig `yaml:"datasource"`

	// LLM and embedding endpoints
	LLM LLMConfig `yaml:"llm"`

	// Safety policy for generated SQL
	Safety SafetyConfig `yaml:"safety"`

	// GlossaryPath points to the business-terms YAML file indexed alongside
	// the schema. Optional.
	GlossaryPath string `yaml:"glossary_path" env:"GLOSSARY_PATH" env-default:""`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWTSecret enables local HMAC verification when set. Secret - env only.
	JWTSecret string `yaml:"-" env:"AUTH_JWT_SECRET"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2". Used when JWTSecret is empty.
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds the engine's own PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"askdb"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"askdb_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds optional Redis configuration. When Host is empty the
// engine falls back to the in-memory pending-operation store.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// DatasourceConfig identifies the database the assistant queries.
type DatasourceConfig struct {
	// Type is the datasource dialect: "postgres" or "mssql".
	Type     string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DATASOURCE_USER" env-default:""`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DATASOURCE_DATABASE" env-default:""`
	SSLMode  string `yaml:"ssl_mode" env:"DATASOURCE_SSLMODE" env-default:"disable"`

	// PoolMaxConns is the maximum number of connections in the datasource pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
}

// LLMConfig holds generative and embedding model endpoints.
type LLMConfig struct {
	// Provider selects the generative backend: "openai" (any
	// OpenAI-compatible endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`

	BaseURL string `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	Model   string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey  string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	// Embeddings always go through an OpenAI-compatible endpoint.
	EmbeddingBaseURL string `yaml:"embedding_base_url" env:"EMBEDDING_BASE_URL" env-default:""`
	EmbeddingModel   string `yaml:"embedding_model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingAPIKey  string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
}

// SafetyConfig controls the confirmation gate for generated SQL.
type SafetyConfig struct {
	// ConfirmationThreshold is the lowest risk tier that requires explicit
	// user approval before execution: "low", "medium", "high" or "critical".
	ConfirmationThreshold string `yaml:"confirmation_threshold" env:"SAFETY_CONFIRMATION_THRESHOLD" env-default:"high"`

	// PendingTTLMinutes is how long an unresolved pending operation stays
	// resolvable before it expires.
	PendingTTLMinutes int `yaml:"pending_ttl_minutes" env:"SAFETY_PENDING_TTL_MINUTES" env-default:"10"`

	// MaxResultRows caps rows returned to the model from read queries.
	MaxResultRows int `yaml:"max_result_rows" env:"SAFETY_MAX_RESULT_ROWS" env-default:"15"`

	// MinExplanationChars is the minimum length of the explanation and
	// expected-impact text supplied with a mutating statement. Shorter text
	// is replaced with a derived default rather than rejected.
	MinExplanationChars int `yaml:"min_explanation_chars" env:"SAFETY_MIN_EXPLANATION_CHARS" env-default:"10"`
}

// PendingTTL returns the pending-operation TTL as a duration.
func (c *SafetyConfig) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Datasource.Type {
	case "postgres", "mssql":
	default:
		return fmt.Errorf("unsupported datasource type %q", c.Datasource.Type)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}

	switch strings.ToLower(c.Safety.ConfirmationThreshold) {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("unsupported confirmation threshold %q", c.Safety.ConfirmationThreshold)
	}

	if c.Auth.EnableVerification && c.Auth.JWTSecret == "" && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth verification enabled but neither AUTH_JWT_SECRET nor jwks_endpoints configured")
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string for the engine DB.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
