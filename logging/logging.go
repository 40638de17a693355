// ABOUTME: Structured logger construction shared by every gestor command
// ABOUTME: Wraps charmbracelet/log with level parsing and text, JSON or logfmt output
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

type Config struct {
	Level  string
	Format string
	// Output defaults to stderr so stdout stays free for command output
	// and the MCP stdio transport.
	Output io.Writer
}

// New builds a logger from cfg. Empty fields default to info level text.
func New(cfg Config) (*log.Logger, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	formatter, err := parseFormatter(cfg.Format)
	if err != nil {
		return nil, err
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	return log.NewWithOptions(out, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "gestor",
	}), nil
}

func parseFormatter(format string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("unknown log format %q", format)
	}
}

// Discard returns a logger that drops everything, for tests and quiet paths.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
