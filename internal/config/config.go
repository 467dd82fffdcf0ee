// Package config provides configuration loading and defaults for effectql.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// GraphQLConfig holds connection details for the GraphQL endpoint.
type GraphQLConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	// Timeout is the HTTP request timeout in seconds.
	Timeout int `yaml:"timeout"`
	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`
}

// CacheConfig selects the default request policy of the document cache.
type CacheConfig struct {
	Policy string `yaml:"policy"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig holds network and authentication settings for the MCP server.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// AuditConfig controls the operation journal.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// TelemetryConfig configures OpenTelemetry tracing. An empty Endpoint
// disables tracing.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// SafetyConfig restricts the operations exposed through the MCP tools.
// Patterns are globs over operation names.
type SafetyConfig struct {
	Allowlist        []string `yaml:"allowlist"`
	Denylist         []string `yaml:"denylist"`
	ConfirmMutations bool     `yaml:"confirm_mutations"`
}

// Config is the top-level configuration structure for effectql.
type Config struct {
	GraphQL   GraphQLConfig   `yaml:"graphql"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Safety    SafetyConfig    `yaml:"safety"`
}

var (
	cachePolicies = []string{"cache-first", "cache-and-network", "network-only"}
	logLevels     = []string{"debug", "info", "warn", "error"}
)

// LoadConfig reads and parses a YAML configuration file from the given path.
// Fields absent from the file keep their DefaultConfig values. On error, nil
// is returned for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a new Config populated with sensible default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		GraphQL: GraphQLConfig{
			URL:     "http://localhost:4000/graphql",
			Timeout: 30,
		},
		Cache: CacheConfig{
			Policy: "cache-first",
		},
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			Service: "effectql",
		},
	}
}

// Validate reports the first invalid field of cfg.
func (c *Config) Validate() error {
	if c.GraphQL.URL == "" {
		return fmt.Errorf("config: graphql.url is required")
	}
	if c.Cache.Policy != "" && !slices.Contains(cachePolicies, c.Cache.Policy) {
		return fmt.Errorf("config: unknown cache policy %q", c.Cache.Policy)
	}
	if c.Log.Level != "" && !slices.Contains(logLevels, c.Log.Level) {
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	if c.Audit.Enabled && c.Audit.LogPath == "" {
		return fmt.Errorf("config: audit.log_path is required when audit is enabled")
	}
	return nil
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - EFFECTQL_GRAPHQL_URL overrides cfg.GraphQL.URL
//   - EFFECTQL_GRAPHQL_API_KEY overrides cfg.GraphQL.APIKey
//   - EFFECTQL_AUTH_TOKEN overrides cfg.Server.AuthToken
//   - EFFECTQL_LOG_LEVEL overrides cfg.Log.Level
//   - EFFECTQL_OTEL_ENDPOINT overrides cfg.Telemetry.Endpoint
func ApplyEnvOverrides(cfg *Config) {
	if url := os.Getenv("EFFECTQL_GRAPHQL_URL"); url != "" {
		cfg.GraphQL.URL = url
	}
	if key := os.Getenv("EFFECTQL_GRAPHQL_API_KEY"); key != "" {
		cfg.GraphQL.APIKey = key
	}
	if token := os.Getenv("EFFECTQL_AUTH_TOKEN"); token != "" {
		cfg.Server.AuthToken = token
	}
	if level := os.Getenv("EFFECTQL_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if endpoint := os.Getenv("EFFECTQL_OTEL_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.Endpoint = endpoint
	}
}

// EnsureAuthToken generates a random auth token and sets it on cfg if
// cfg.Server.AuthToken is empty. It returns the token (existing or generated)
// and any error encountered during generation.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded cryptographically
// random token string.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}
