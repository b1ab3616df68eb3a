package config

import (
	"fmt"
	"io"
	"log/slog"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

var slogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func (l LoggingConfig) validate() error {
	if _, ok := slogLevels[l.Level]; !ok {
		return fmt.Errorf("unknown logging.level %q", l.Level)
	}
	if l.Format != "text" && l.Format != "json" {
		return fmt.Errorf("unknown logging.format %q", l.Format)
	}
	return nil
}

// NewLogger builds the process logger writing to w
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, ok := slogLevels[l.Level]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
