// Package config provides environment-driven configuration for quarryd.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Config holds all application configuration values.
type Config struct {
	DatabaseURL Secret
	Port        string
	ListenHost  string
	CORSOrigins []string

	OllamaURL      string
	EmbeddingModel string
	// EmbeddingDimensions must match the configured embedding model's output
	// width; the embeddings column is altered on start if it drifts.
	EmbeddingDimensions int
	LLMModel            string

	LogLevel   string
	StorageDir string

	BusConcurrency int
	BusMaxAttempts int
	// StageTimeout caps a single pipeline handler invocation; exceeding it is a
	// handler failure subject to the retry policy.
	StageTimeout time.Duration
	// HybridJoinTimeout bounds how long a hybrid document may wait for its
	// second completion path before being failed. Zero disables the reaper.
	HybridJoinTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    Secret(envOrDefault("DATABASE_URL", "")),
		Port:           envOrDefault("PORT", "3040"),
		ListenHost:     envOrDefault("LISTEN_HOST", "127.0.0.1"),
		OllamaURL:      envOrDefault("OLLAMA_URL", "http://localhost:11434"),
		EmbeddingModel: envOrDefault("EMBEDDING_MODEL", "qwen3-embedding:0.6b"),
		LLMModel:       envOrDefault("LLM_MODEL", "qwen3:4b"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		StorageDir:     envOrDefault("STORAGE_DIR", "./data/objects"),
	}

	var err error

	cfg.EmbeddingDimensions, err = envInt("EMBEDDING_DIMENSIONS", 1024, 1, 4096)
	if err != nil {
		return nil, err
	}

	cfg.BusConcurrency, err = envInt("BUS_CONCURRENCY", 2, 1, 16)
	if err != nil {
		return nil, err
	}

	cfg.BusMaxAttempts, err = envInt("BUS_MAX_ATTEMPTS", 5, 1, 20)
	if err != nil {
		return nil, err
	}

	stageSecs, err := envInt("STAGE_TIMEOUT_SECONDS", 120, 1, 3600)
	if err != nil {
		return nil, err
	}
	cfg.StageTimeout = time.Duration(stageSecs) * time.Second

	joinMins, err := envInt("HYBRID_JOIN_TIMEOUT_MINUTES", 30, 0, 1440)
	if err != nil {
		return nil, err
	}
	cfg.HybridJoinTimeout = time.Duration(joinMins) * time.Minute

	origins := envOrDefault("CORS_ORIGINS", "http://localhost:3002")
	cfg.CORSOrigins = strings.Split(origins, ",")

	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}

func (c *Config) validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateNetwork(); err != nil {
		return err
	}

	if err := c.validateOllama(); err != nil {
		return err
	}

	return c.validateCORS()
}

func (c *Config) validateDatabase() error {
	if c.DatabaseURL.Value() == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	dbURL, err := url.Parse(c.DatabaseURL.Value())
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL scheme must be postgres:// or postgresql://")
	}

	if dbURL.Hostname() == "" {
		return fmt.Errorf("DATABASE_URL must include a host")
	}

	dbHost := dbURL.Hostname()
	if dbHost != "localhost" && dbHost != "127.0.0.1" && dbHost != "::1" {
		if dbURL.Query().Get("sslmode") == "disable" {
			return fmt.Errorf("DATABASE_URL sslmode=disable is not allowed for non-local host %q", dbHost)
		}
	}

	return nil
}

func (c *Config) validateNetwork() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid integer: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	return nil
}

func (c *Config) validateOllama() error {
	if _, err := url.ParseRequestURI(c.OllamaURL); err != nil {
		return fmt.Errorf("OLLAMA_URL is not a valid URL: %w", err)
	}

	if c.EmbeddingModel == "" {
		return fmt.Errorf("EMBEDDING_MODEL is required")
	}

	if c.LLMModel == "" {
		return fmt.Errorf("LLM_MODEL is required")
	}

	return nil
}

func (c *Config) validateCORS() error {
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ORIGINS must not contain wildcard '*'")
		}

		if strings.ContainsAny(origin, "*?[]") {
			return fmt.Errorf("CORS_ORIGINS must not contain glob characters (*?[]), got %q", origin)
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("CORS_ORIGINS contains invalid origin %q (must have scheme and host)", origin)
		}
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback, min, max int) (int, error) {
	v := envOrDefault(key, strconv.Itoa(fallback))

	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", key, min, max)
	}

	return n, nil
}
