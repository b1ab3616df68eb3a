package config

import (
	"fmt"
	"time"
)

// Returns the defaults for env. Each environment starts from the base values
// and overrides only what differs.
func Defaults(env string) (*Config, error) {
	cfg := base()
	cfg.Environment = env

	switch env {
	case EnvDevelopment:
		cfg.Debug = true
		cfg.Database.URL = "sqlite://listings.db"
		cfg.Database.LogLevel = "info"
		cfg.Auth.JWTSecret = "dev-insecure-secret"
		cfg.Server.AllowedHosts = []string{"127.0.0.1", "localhost", "0.0.0.0"}
		cfg.Server.CORSOrigins = []string{"http://localhost:8000", "http://127.0.0.1:8000"}
		cfg.Logging.Level = "debug"
	case EnvProduction:
		cfg.Database.LogLevel = "warn"
		cfg.Logging.Level = "warn"
		cfg.Logging.Format = "json"
	case EnvTest:
		cfg.Database.URL = "sqlite://file::memory:?cache=shared"
		cfg.Database.LogLevel = "silent"
		cfg.Auth.JWTSecret = "test-secret"
		cfg.Logging.Level = "error"
		cfg.Security.RateLimit.Store = StoreMemory
	default:
		return nil, fmt.Errorf("unknown environment %q", env)
	}

	return cfg, nil
}

func base() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			MaxConnections:  1024,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(15 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Database: DatabaseConfig{
			URL:          "postgres://localhost:5432/listings?sslmode=disable",
			WaitTimeout:  Duration(60 * time.Second),
			WaitInterval: Duration(3 * time.Second),
			LogLevel:     "warn",
		},
		Redis: RedisConfig{
			Host:    "localhost",
			Port:    6379,
			Timeout: Duration(time.Second),
		},
		Auth: AuthConfig{
			JWTExpiryHours:   24,
			PasswordResetTTL: Duration(time.Hour),
		},
		Security: SecurityConfig{
			BlockedPathPatterns: []string{".git", ".env", ".svn", ".hg", "re:~$"},
			RateLimit:           DefaultRateLimits(),
			AuditBufferSize:     1000,
			AuditEventsPerSec:   50,
		},
		Health: HealthConfig{
			ProbeTimeout: Duration(2 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Login is limited per IP and per submitted username; password resets per
// submitted email with a looser per-IP cap behind it.
func DefaultRateLimits() RateLimitConfig {
	return RateLimitConfig{
		Enabled:   true,
		FailOpen:  false,
		Store:     StoreRedis,
		KeyPrefix: "ratelimit",
		Classes: map[string]RouteClassConfig{
			ClassLogin: {
				Message: "Too many login attempts. Please try again later.",
				Rules: []RuleConfig{
					{Name: "login_ip", Scope: "ip", Limit: 5, Window: Duration(time.Minute)},
					{Name: "login_username", Scope: "username", Limit: 3, Window: Duration(time.Minute)},
				},
			},
			ClassPasswordReset: {
				Message: "Too many password reset requests. Please try again later.",
				Rules: []RuleConfig{
					{Name: "reset_email", Scope: "email", Limit: 3, Window: Duration(time.Hour)},
					{Name: "reset_ip", Scope: "ip", Limit: 10, Window: Duration(time.Hour)},
				},
			},
			ClassAPI: {
				Message: "Too many requests. Please try again later.",
				Rules: []RuleConfig{
					{Name: "api_ip", Scope: "ip", Limit: 100, Window: Duration(time.Minute)},
				},
			},
		},
	}
}
