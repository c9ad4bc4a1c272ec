// Package config provides configuration for the carechat service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the carechat configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Poll     PollConfig     `yaml:"poll"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	WS       WSConfig       `yaml:"ws"`
	Policy   PolicyConfig   `yaml:"policy"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig addresses the enrichment and orchestration services.
type BackendConfig struct {
	EnrichmentURL    string        `yaml:"enrichment_url"`
	OrchestrationURL string        `yaml:"orchestration_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

// PollConfig bounds the status-check loop.
type PollConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffStep time.Duration `yaml:"backoff_step"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// NATSConfig controls the event bus. With URL empty and Enabled set, an
// embedded server is started on Port.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	URL     string `yaml:"url"`
}

type WSConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// PolicyConfig optionally replaces the built-in access policy.
type PolicyConfig struct {
	Path string `yaml:"path"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{
			EnrichmentURL:    "http://localhost:8000",
			OrchestrationURL: "http://localhost:8001",
			Timeout:          120 * time.Second,
			MaxRetries:       3,
			RetryDelay:       time.Second,
		},
		Poll: PollConfig{
			MaxAttempts: 10,
			BackoffBase: 3 * time.Second,
			BackoffStep: time.Second,
			BackoffMax:  8 * time.Second,
		},
		Database: DatabaseConfig{
			URL: "file:carechat.db?cache=shared&mode=rwc",
		},
		NATS: NATSConfig{
			Port: 4222,
		},
		WS: WSConfig{
			PingInterval:   30 * time.Second,
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			MaxMessageSize: 65536,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file named by CARECHAT_CONFIG (default
// config/carechat.yaml) if it exists, then applies environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	path := getEnv("CARECHAT_CONFIG", "config/carechat.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.HTTPPort = getEnvInt("HTTP_PORT", cfg.Server.HTTPPort)
	cfg.Server.ShutdownTimeout = getEnvMillis("SHUTDOWN_TIMEOUT_MS", cfg.Server.ShutdownTimeout)

	cfg.Backend.EnrichmentURL = getEnv("ENRICHMENT_URL", cfg.Backend.EnrichmentURL)
	cfg.Backend.OrchestrationURL = getEnv("ORCHESTRATION_URL", cfg.Backend.OrchestrationURL)
	cfg.Backend.Timeout = getEnvMillis("BACKEND_TIMEOUT_MS", cfg.Backend.Timeout)
	cfg.Backend.MaxRetries = getEnvInt("BACKEND_RETRIES", cfg.Backend.MaxRetries)
	cfg.Backend.RetryDelay = getEnvMillis("BACKEND_RETRY_DELAY_MS", cfg.Backend.RetryDelay)

	cfg.Poll.MaxAttempts = getEnvInt("POLL_MAX_ATTEMPTS", cfg.Poll.MaxAttempts)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)

	cfg.NATS.Enabled = getEnvBool("NATS_ENABLED", cfg.NATS.Enabled)
	cfg.NATS.Port = getEnvInt("NATS_PORT", cfg.NATS.Port)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)

	cfg.WS.PingInterval = getEnvMillis("WS_PING_INTERVAL_MS", cfg.WS.PingInterval)
	cfg.WS.WriteTimeout = getEnvMillis("WS_WRITE_TIMEOUT_MS", cfg.WS.WriteTimeout)
	cfg.WS.ReadTimeout = getEnvMillis("WS_READ_TIMEOUT_MS", cfg.WS.ReadTimeout)
	cfg.WS.MaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(cfg.WS.MaxMessageSize)))

	cfg.Policy.Path = getEnv("POLICY_PATH", cfg.Policy.Path)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Backend.EnrichmentURL == "" || c.Backend.OrchestrationURL == "" {
		return fmt.Errorf("config: backend urls are required")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("config: backend.max_retries must not be negative, got %d", c.Backend.MaxRetries)
	}
	if c.Poll.MaxAttempts < 1 {
		return fmt.Errorf("config: poll.max_attempts must be at least 1, got %d", c.Poll.MaxAttempts)
	}
	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("config: invalid http port %d", c.Server.HTTPPort)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
