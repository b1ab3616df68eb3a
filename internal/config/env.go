package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Applies environment variable overrides on top of file and default values
func (c *Config) ApplyEnvOverrides() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Logging.Level = strings.ToLower(getEnv("LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("LOG_FORMAT", c.Logging.Format))
	c.Security.RateLimit.Store = strings.ToLower(getEnv("RATE_LIMIT_STORE", c.Security.RateLimit.Store))

	if v, ok := lookupList("ALLOWED_HOSTS"); ok {
		c.Server.AllowedHosts = v
	}
	if v, ok := lookupList("TRUSTED_PROXIES"); ok {
		c.Server.TrustedProxies = v
	}
	if v, ok := lookupList("CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSOrigins = v
	}
	if v, ok := lookupList("BLOCKED_PATH_PATTERNS"); ok {
		c.Security.BlockedPathPatterns = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"REDIS_PORT", &c.Redis.Port},
		{"REDIS_DB", &c.Redis.DB},
		{"JWT_EXPIRY_HOURS", &c.Auth.JWTExpiryHours},
		{"MAX_CONNECTIONS", &c.Server.MaxConnections},
	}
	for _, i := range ints {
		if err := parseInt(i.key, i.dst); err != nil {
			return err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"APP_DEBUG", &c.Debug},
		{"RATE_LIMIT_ENABLED", &c.Security.RateLimit.Enabled},
		{"RATE_LIMIT_FAIL_OPEN", &c.Security.RateLimit.FailOpen},
	}
	for _, b := range bools {
		if err := parseBool(b.key, b.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{"DB_WAIT_TIMEOUT", &c.Database.WaitTimeout},
		{"DB_WAIT_INTERVAL", &c.Database.WaitInterval},
		{"HEALTH_PROBE_TIMEOUT", &c.Health.ProbeTimeout},
		{"PASSWORD_RESET_TTL", &c.Auth.PasswordResetTTL},
	}
	for _, d := range durations {
		if err := parseDuration(d.key, d.dst); err != nil {
			return err
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func lookupList(key string) ([]string, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, false
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, true
}

func parseInt(key string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func parseBool(key string, dst *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func parseDuration(key string, dst *Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = Duration(v)
	return nil
}
