// Package config provides unified configuration loading for PixelForge:
// defaults, then a YAML file, then environment variable overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the complete PixelForge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Providers ProvidersConfig `yaml:"providers"`
	Credits   CreditsConfig   `yaml:"credits"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP and metrics listeners.
type ServerConfig struct {
	HTTPPort           int           `yaml:"http_port"`
	MetricsPort        int           `yaml:"metrics_port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	RateLimitRPS       float64       `yaml:"rate_limit_rps"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver: sqlite (default), postgres, mysql
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"` // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds the connection string for the configured driver.
func (c DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.Name)
	default:
		return c.Path
	}
}

// RedisConfig configures the optional task-result cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProvidersConfig holds per-engine provider settings.
type ProvidersConfig struct {
	Gemini     GeminiConfig     `yaml:"gemini"`
	Midjourney MidjourneyConfig `yaml:"midjourney"`
	Flux       FluxConfig       `yaml:"flux"`
}

// GeminiConfig configures the synchronous multimodal engine.
type GeminiConfig struct {
	// APIKeys is the rotating credential pool; each retry attempt uses the
	// next key in round-robin order.
	APIKeys    []string      `yaml:"api_keys"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	MaxRetries int           `yaml:"max_retries"`
	FixedDelay time.Duration `yaml:"fixed_delay"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MidjourneyConfig configures the creative-queue engine.
type MidjourneyConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// FluxConfig configures the generic job-queue engine.
type FluxConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// CreditsConfig configures the per-user credit ledger.
type CreditsConfig struct {
	InitialBalance int `yaml:"initial_balance"`
}

// AuthConfig configures session issuance.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// StorageConfig configures local image caching.
type StorageConfig struct {
	CacheDir string `yaml:"cache_dir"`
}

// QueueConfig configures the submission queue and poll loop.
type QueueConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	HistoryLimit int           `yaml:"history_limit"`
	Retention    time.Duration `yaml:"retention"`
}

// LogConfig configures zap logging.
type LogConfig struct {
	Level       string   `yaml:"level"`  // debug, info, warn, error
	Format      string   `yaml:"format"` // json, console
	OutputPaths []string `yaml:"output_paths"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Path:    "pixelforge.db",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Providers: ProvidersConfig{
			Gemini: GeminiConfig{
				BaseURL:    "https://generativelanguage.googleapis.com",
				Model:      "gemini-2.5-flash-image",
				MaxRetries: 3,
				FixedDelay: 500 * time.Millisecond,
				BaseDelay:  time.Second,
				MaxDelay:   30 * time.Second,
				Timeout:    120 * time.Second,
			},
			Midjourney: MidjourneyConfig{
				Timeout: 30 * time.Second,
			},
			Flux: FluxConfig{
				BaseURL: "https://api.bfl.ai",
				Model:   "flux-pro-1.1",
				Timeout: 30 * time.Second,
			},
		},
		Credits: CreditsConfig{
			InitialBalance: 100,
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		Storage: StorageConfig{
			CacheDir: "cache/images",
		},
		Queue: QueueConfig{
			Concurrency:  2,
			PollInterval: 3 * time.Second,
			HistoryLimit: 50,
			Retention:    10 * time.Minute,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "pixelforge",
			OTLPEndpoint: "localhost:4317",
			Insecure:     true,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort == c.Server.HTTPPort {
		return fmt.Errorf("metrics_port must differ from http_port")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll_interval must be positive")
	}
	if c.Credits.InitialBalance < 0 {
		return fmt.Errorf("credits initial_balance cannot be negative")
	}
	if c.Providers.Gemini.MaxRetries < 0 {
		return fmt.Errorf("gemini max_retries cannot be negative")
	}
	return nil
}
