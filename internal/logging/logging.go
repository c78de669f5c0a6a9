// Package logging builds the zap logger shared by the CLI and the service.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format represents the log output format.
type Format int

const (
	// FormatJSON produces one JSON object per line. Default.
	FormatJSON Format = iota

	// FormatText produces human-readable console output.
	FormatText
)

// ParseFormat maps "json" or "text" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "text", "console":
		return FormatText, nil
	default:
		return 0, fmt.Errorf("unknown log format %q (expected json or text)", s)
	}
}

type config struct {
	format Format
	level  zapcore.Level
	output io.Writer
}

// Option configures the logger created by New.
type Option func(*config)

// WithFormat sets the output format. The default is FormatJSON.
func WithFormat(f Format) Option {
	return func(c *config) { c.format = f }
}

// WithLevel sets the minimum level. The default is info.
func WithLevel(l zapcore.Level) Option {
	return func(c *config) { c.level = l }
}

// WithOutput sets the destination writer. The default is os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(c *config) { c.output = w }
}

// New creates a logger with RFC3339 timestamps.
func New(opts ...Option) *zap.Logger {
	cfg := &config{
		format: FormatJSON,
		level:  zapcore.InfoLevel,
		output: os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var enc zapcore.Encoder
	switch cfg.format {
	case FormatText:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(cfg.output), cfg.level)
	return zap.New(core, zap.ErrorOutput(zapcore.AddSync(cfg.output)))
}

// FromStrings builds a logger from the textual level and format used by
// flags and configuration.
func FromStrings(level, format string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return New(WithLevel(lvl), WithFormat(f), WithOutput(w)), nil
}
