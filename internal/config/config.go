// Package config loads process settings from defaults, an optional file and
// VOYAGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "VOYAGE"

// Config is the merged runtime configuration of the API process.
type Config struct {
	HTTP     HTTPConfig
	GRPC     GRPCConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Audit    AuditConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	MaxBodyBytes    int64
	AllowedOrigins  []string
	TrustedProxies  []string
}

type GRPCConfig struct {
	Addr string
}

// PostgresConfig selects the durable store. An empty DSN runs on the
// in-memory store.
type PostgresConfig struct {
	DSN         string
	AutoMigrate bool
}

// RedisConfig enables the agency cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type AuthConfig struct {
	TokenSecret       string
	Issuer            string
	AccessTTL         time.Duration
	BootstrapEmail    string
	BootstrapPassword string
}

type AuditConfig struct {
	Buffer   int
	Timeout  time.Duration
	Database bool
}

type LogConfig struct {
	Level string
}

var defaults = map[string]any{
	"http.addr":               ":8080",
	"http.shutdown_timeout":   "10s",
	"http.rate_limit_rps":     20.0,
	"http.rate_limit_burst":   40,
	"http.max_body_bytes":     1 << 20,
	"http.allowed_origins":    []string{"*"},
	"http.trusted_proxies":    []string{},
	"grpc.addr":               ":9090",
	"postgres.dsn":            "",
	"postgres.auto_migrate":   false,
	"redis.addr":              "",
	"redis.password":          "",
	"redis.db":                0,
	"redis.cache_ttl":         "30s",
	"auth.token_secret":       "",
	"auth.issuer":             "voyagedesk",
	"auth.access_ttl":         "15m",
	"auth.bootstrap_email":    "",
	"auth.bootstrap_password": "",
	"audit.buffer":            1024,
	"audit.timeout":           "2s",
	"audit.database":          true,
	"log.level":               "info",
}

// Load merges defaults, the optional file at path and the environment.
// Nested keys map to env vars with dots replaced by underscores, so
// auth.token_secret is VOYAGE_AUTH_TOKEN_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			RateLimitRPS:    v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:  v.GetInt("http.rate_limit_burst"),
			MaxBodyBytes:    v.GetInt64("http.max_body_bytes"),
			AllowedOrigins:  v.GetStringSlice("http.allowed_origins"),
			TrustedProxies:  v.GetStringSlice("http.trusted_proxies"),
		},
		GRPC: GRPCConfig{Addr: v.GetString("grpc.addr")},
		Postgres: PostgresConfig{
			DSN:         v.GetString("postgres.dsn"),
			AutoMigrate: v.GetBool("postgres.auto_migrate"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetDuration("redis.cache_ttl"),
		},
		Auth: AuthConfig{
			TokenSecret:       v.GetString("auth.token_secret"),
			Issuer:            v.GetString("auth.issuer"),
			AccessTTL:         v.GetDuration("auth.access_ttl"),
			BootstrapEmail:    v.GetString("auth.bootstrap_email"),
			BootstrapPassword: v.GetString("auth.bootstrap_password"),
		},
		Audit: AuditConfig{
			Buffer:   v.GetInt("audit.buffer"),
			Timeout:  v.GetDuration("audit.timeout"),
			Database: v.GetBool("audit.database"),
		},
		Log: LogConfig{Level: v.GetString("log.level")},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if len(strings.TrimSpace(c.Auth.TokenSecret)) < 32 {
		errs = append(errs, errors.New("auth.token_secret must be at least 32 bytes"))
	}
	if c.Auth.AccessTTL <= 0 {
		errs = append(errs, errors.New("auth.access_ttl must be positive"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}
	if c.HTTP.RateLimitRPS <= 0 || c.HTTP.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("http rate limit must be positive"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.CacheTTL <= 0 {
		errs = append(errs, errors.New("redis.cache_ttl must be positive"))
	}
	if (c.Auth.BootstrapEmail == "") != (c.Auth.BootstrapPassword == "") {
		errs = append(errs, errors.New("auth.bootstrap_email and auth.bootstrap_password go together"))
	}
	return errors.Join(errs...)
}
