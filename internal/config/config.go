package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm/logger"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Route classes every deployment must configure
const (
	ClassLogin         = "login"
	ClassPasswordReset = "password_reset"
	ClassAPI           = "api"
)

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

const minProductionSecretLen = 32

type Config struct {
	Environment string         `json:"environment" yaml:"environment"`
	Debug       bool           `json:"debug" yaml:"debug"`
	Server      ServerConfig   `json:"server" yaml:"server"`
	Database    DatabaseConfig `json:"database" yaml:"database"`
	Redis       RedisConfig    `json:"redis" yaml:"redis"`
	Auth        AuthConfig     `json:"auth" yaml:"auth"`
	Security    SecurityConfig `json:"security" yaml:"security"`
	Health      HealthConfig   `json:"health" yaml:"health"`
	Logging     LoggingConfig  `json:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Port            string   `json:"port" yaml:"port"`
	AllowedHosts    []string `json:"allowed_hosts" yaml:"allowed_hosts"`
	TrustedProxies  []string `json:"trusted_proxies" yaml:"trusted_proxies"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins"`
	MaxConnections  int      `json:"max_connections" yaml:"max_connections"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL          string   `json:"url" yaml:"url"`
	WaitTimeout  Duration `json:"wait_timeout" yaml:"wait_timeout"`
	WaitInterval Duration `json:"wait_interval" yaml:"wait_interval"`
	LogLevel     string   `json:"log_level" yaml:"log_level"` // silent, error, warn, info
}

type RedisConfig struct {
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Password string   `json:"password" yaml:"password"`
	DB       int      `json:"db" yaml:"db"`
	Timeout  Duration `json:"timeout" yaml:"timeout"`
}

func (r RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AuthConfig struct {
	JWTSecret        string   `json:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiryHours   int      `json:"jwt_expiry_hours" yaml:"jwt_expiry_hours"`
	PasswordResetTTL Duration `json:"password_reset_ttl" yaml:"password_reset_ttl"`
}

type SecurityConfig struct {
	// Plain entries match as case-insensitive substrings, "re:" entries as regular expressions
	BlockedPathPatterns []string        `json:"blocked_path_patterns" yaml:"blocked_path_patterns"`
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	AuditBufferSize     int             `json:"audit_buffer_size" yaml:"audit_buffer_size"`
	AuditEventsPerSec   float64         `json:"audit_events_per_second" yaml:"audit_events_per_second"`
}

type RateLimitConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	FailOpen bool `json:"fail_open" yaml:"fail_open"`
	// Counter store: "redis" or "memory" (single process only)
	Store     string                      `json:"store" yaml:"store"`
	KeyPrefix string                      `json:"key_prefix" yaml:"key_prefix"`
	Classes   map[string]RouteClassConfig `json:"classes" yaml:"classes"`
}

type RouteClassConfig struct {
	Message string       `json:"message" yaml:"message"`
	Rules   []RuleConfig `json:"rules" yaml:"rules"`
}

type RuleConfig struct {
	Name      string   `json:"name" yaml:"name"`
	Scope     string   `json:"scope" yaml:"scope"` // ip, username, email
	Limit     int      `json:"limit" yaml:"limit"`
	Window    Duration `json:"window" yaml:"window"`
	Algorithm string   `json:"algorithm" yaml:"algorithm"` // fixed_window (default), sliding_window
}

type HealthConfig struct {
	ProbeTimeout Duration `json:"probe_timeout" yaml:"probe_timeout"`
}

// Resolves the configuration file path from CONFIG_FILE, defaulting to config.json
func PathFromEnv() string {
	return getEnv("CONFIG_FILE", "config.json")
}

// Builds the configuration for APP_ENV: environment defaults, then the optional
// file at path, then environment variable overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := Defaults(getEnv("APP_ENV", EnvDevelopment))
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}

	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.WaitTimeout <= 0 || c.Database.WaitInterval <= 0 {
		errs = append(errs, errors.New("database wait timeout and interval must be positive"))
	}
	if _, ok := gormLevels[c.Database.LogLevel]; !ok {
		errs = append(errs, fmt.Errorf("unknown database.log_level %q", c.Database.LogLevel))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.JWTExpiryHours <= 0 {
		errs = append(errs, errors.New("auth.jwt_expiry_hours must be positive"))
	}
	if c.Auth.PasswordResetTTL <= 0 {
		errs = append(errs, errors.New("auth.password_reset_ttl must be positive"))
	}

	if c.IsProduction() {
		if c.Debug {
			errs = append(errs, errors.New("debug must be disabled in production"))
		}
		if len(c.Auth.JWTSecret) < minProductionSecretLen {
			errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes in production", minProductionSecretLen))
		}
	}

	errs = append(errs, validatePatterns(c.Security.BlockedPathPatterns)...)
	errs = append(errs, c.Security.RateLimit.validate()...)

	if c.Health.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("health.probe_timeout must be positive"))
	}

	if err := c.Logging.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validatePatterns(patterns []string) []error {
	var errs []error
	if len(patterns) == 0 {
		errs = append(errs, errors.New("security.blocked_path_patterns must not be empty"))
	}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, errors.New("blocked path pattern must not be blank"))
			continue
		}
		if expr, ok := strings.CutPrefix(p, "re:"); ok {
			if _, err := regexp.Compile("(?i)" + expr); err != nil {
				errs = append(errs, fmt.Errorf("blocked path pattern %q: %w", p, err))
			}
		}
	}
	return errs
}

var validScopes = map[string]bool{"ip": true, "username": true, "email": true}

var validAlgorithms = map[string]bool{"": true, "fixed_window": true, "sliding_window": true}

func (r RateLimitConfig) validate() []error {
	var errs []error
	if r.Store != StoreRedis && r.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("unknown security.rate_limit.store %q", r.Store))
	}
	for _, class := range []string{ClassLogin, ClassPasswordReset, ClassAPI} {
		if _, ok := r.Classes[class]; !ok {
			errs = append(errs, fmt.Errorf("rate limit class %q is not configured", class))
		}
	}

	for class, rc := range r.Classes {
		seen := make(map[string]bool)
		for _, rule := range rc.Rules {
			prefix := fmt.Sprintf("rate limit %s/%s", class, rule.Name)
			if rule.Name == "" {
				errs = append(errs, fmt.Errorf("rate limit class %q has a rule without a name", class))
			}
			if seen[rule.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate rule name", prefix))
			}
			seen[rule.Name] = true
			if !validScopes[rule.Scope] {
				errs = append(errs, fmt.Errorf("%s: unknown scope %q", prefix, rule.Scope))
			}
			if rule.Limit <= 0 {
				errs = append(errs, fmt.Errorf("%s: limit must be positive", prefix))
			}
			if rule.Window < Duration(time.Second) {
				errs = append(errs, fmt.Errorf("%s: window must be at least 1s", prefix))
			}
			if !validAlgorithms[rule.Algorithm] {
				errs = append(errs, fmt.Errorf("%s: unknown algorithm %q", prefix, rule.Algorithm))
			}
		}
	}
	return errs
}

var gormLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

func (d DatabaseConfig) GormLogLevel() logger.LogLevel {
	if level, ok := gormLevels[d.LogLevel]; ok {
		return level
	}
	return logger.Warn
}
