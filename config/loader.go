package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with precedence: defaults, YAML file, environment.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "PIXELFORGE"}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load builds the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables onto the config. Only settings
// that are operationally useful to override at deploy time are mapped.
func (l *Loader) applyEnv(cfg *Config) {
	l.envInt("SERVER_HTTP_PORT", &cfg.Server.HTTPPort)
	l.envInt("SERVER_METRICS_PORT", &cfg.Server.MetricsPort)

	l.envString("DATABASE_DRIVER", &cfg.Database.Driver)
	l.envString("DATABASE_PATH", &cfg.Database.Path)
	l.envString("DATABASE_HOST", &cfg.Database.Host)
	l.envInt("DATABASE_PORT", &cfg.Database.Port)
	l.envString("DATABASE_USER", &cfg.Database.User)
	l.envString("DATABASE_PASSWORD", &cfg.Database.Password)
	l.envString("DATABASE_NAME", &cfg.Database.Name)

	l.envBool("REDIS_ENABLED", &cfg.Redis.Enabled)
	l.envString("REDIS_ADDR", &cfg.Redis.Addr)
	l.envString("REDIS_PASSWORD", &cfg.Redis.Password)

	if v := l.lookup("GEMINI_API_KEYS"); v != "" {
		keys := strings.Split(v, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
		cfg.Providers.Gemini.APIKeys = keys
	}
	l.envString("GEMINI_MODEL", &cfg.Providers.Gemini.Model)
	l.envString("MIDJOURNEY_BASE_URL", &cfg.Providers.Midjourney.BaseURL)
	l.envString("MIDJOURNEY_API_KEY", &cfg.Providers.Midjourney.APIKey)
	l.envString("FLUX_BASE_URL", &cfg.Providers.Flux.BaseURL)
	l.envString("FLUX_API_KEY", &cfg.Providers.Flux.APIKey)
	l.envString("FLUX_MODEL", &cfg.Providers.Flux.Model)

	l.envInt("CREDITS_INITIAL_BALANCE", &cfg.Credits.InitialBalance)
	l.envString("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	l.envDuration("AUTH_SESSION_TTL", &cfg.Auth.SessionTTL)
	l.envString("STORAGE_CACHE_DIR", &cfg.Storage.CacheDir)

	l.envInt("QUEUE_CONCURRENCY", &cfg.Queue.Concurrency)
	l.envDuration("QUEUE_POLL_INTERVAL", &cfg.Queue.PollInterval)
	l.envDuration("QUEUE_RETENTION", &cfg.Queue.Retention)

	l.envString("LOG_LEVEL", &cfg.Log.Level)
	l.envString("LOG_FORMAT", &cfg.Log.Format)

	l.envBool("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	l.envString("TELEMETRY_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
}

func (l *Loader) lookup(key string) string {
	return os.Getenv(l.envPrefix + "_" + key)
}

func (l *Loader) envString(key string, dst *string) {
	if v := l.lookup(key); v != "" {
		*dst = v
	}
}

func (l *Loader) envInt(key string, dst *int) {
	if v := l.lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (l *Loader) envBool(key string, dst *bool) {
	if v := l.lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (l *Loader) envDuration(key string, dst *time.Duration) {
	if v := l.lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
