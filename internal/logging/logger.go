package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"folio/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	outputWriter, err := openWriters(opts.OutputPaths)
	if err != nil {
		return nil, err
	}

	addSource := opts.Development || level <= slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = newJSONHandler(outputWriter, levelVar, addSource)
	case "console":
		handler = newConsoleHandler(outputWriter, levelVar, addSource)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	return slog.New(handler), nil
}

// ConfigOption adjusts NewFromConfig.
type ConfigOption func(*fromConfig)

type fromConfig struct {
	console string
	level   string
}

// WithConsole sends console output to "stdout", "stderr" or a file path.
func WithConsole(target string) ConfigOption {
	return func(c *fromConfig) { c.console = target }
}

// WithConsoleLevel overrides logging.level for console output only.
func WithConsoleLevel(level string) ConfigOption {
	return func(c *fromConfig) {
		if strings.TrimSpace(level) != "" {
			c.level = level
		}
	}
}

// NewFromConfig creates a logger using application config defaults. Console
// output follows logging.format at logging.level; when a log directory is
// configured every record at debug and above is also written to folio.log as JSON.
func NewFromConfig(cfg *config.Config, opts ...ConfigOption) (*slog.Logger, error) {
	settings := fromConfig{console: "stdout", level: "info"}
	format := "console"
	if cfg != nil {
		settings.level = cfg.Logging.Level
		format = cfg.Logging.Format
	}
	for _, opt := range opts {
		opt(&settings)
	}

	console, err := New(Options{
		Level:       settings.level,
		Format:      format,
		OutputPaths: []string{settings.console},
	})
	if err != nil {
		return nil, err
	}
	if cfg == nil || strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return console, nil
	}

	file, err := openLogFile(filepath.Join(cfg.Paths.LogDir, "folio.log"))
	if err != nil {
		return nil, err
	}
	fileLevel := new(slog.LevelVar)
	fileLevel.Set(slog.LevelDebug)
	return TeeLogger(console, newJSONHandler(file, fileLevel, false)), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openWriters(paths []string) (io.Writer, error) {
	seen := map[string]struct{}{}
	var writers []io.Writer
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}

		switch trimmed {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			file, err := openLogFile(trimmed)
			if err != nil {
				return nil, err
			}
			writers = append(writers, file)
		}
	}

	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}
