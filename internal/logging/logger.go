package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"asinresolve/internal/config"
)

// LogFileName is the file written under paths.log_dir.
const LogFileName = "asinresolve.log"

// Options selects the level, format, and sinks of a logger. Outputs accepts
// "stdout", "stderr", or file paths; an empty list logs to stderr.
type Options struct {
	Level     string
	Format    string
	Outputs   []string
	AddSource bool
}

// New builds a logger from opts.
func New(opts Options) (*slog.Logger, error) {
	lvl := new(slog.LevelVar)
	lvl.Set(parseLevel(opts.Level))
	addSource := opts.AddSource || lvl.Level() <= slog.LevelDebug

	w, err := openSinks(opts.Outputs)
	if err != nil {
		return nil, err
	}

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		return slog.New(newPrettyHandler(w, lvl, addSource)), nil
	case "json":
		return slog.New(newJSONHandler(w, lvl, addSource)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig logs to stderr, plus LogFileName in cfg.Paths.LogDir when one
// is configured. Stdout is left to command output.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	outputs := []string{"stderr"}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		outputs = append(outputs, filepath.Join(dir, LogFileName))
	}
	return New(Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: outputs,
	})
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

func openSinks(outputs []string) (io.Writer, error) {
	seen := make(map[string]bool, len(outputs))
	var sinks []io.Writer
	for _, out := range outputs {
		out = strings.TrimSpace(out)
		if out == "" || seen[out] {
			continue
		}
		seen[out] = true
		switch out {
		case "stdout":
			sinks = append(sinks, os.Stdout)
		case "stderr":
			sinks = append(sinks, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return nil, fmt.Errorf("ensure log directory: %w", err)
			}
			f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", out, err)
			}
			sinks = append(sinks, f)
		}
	}
	switch len(sinks) {
	case 0:
		return os.Stderr, nil
	case 1:
		return sinks[0], nil
	default:
		return io.MultiWriter(sinks...), nil
	}
}
