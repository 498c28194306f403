// Package logger sets up structured logging for both contexts.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// New builds a slog.Logger writing human-readable output to stderr. Progress
// and results go to stdout, so logs stay on stderr where callers expect
// diagnostics.
func New(level string) (*slog.Logger, error) {
	return newWithWriter(level, os.Stderr)
}

func newWithWriter(level string, w io.Writer) (*slog.Logger, error) {
	parsed, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           parsed,
		ReportTimestamp: true,
	})
	return slog.New(handler), nil
}

func parseLevel(input string) (charmlog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "info":
		return charmlog.InfoLevel, nil
	case "debug":
		return charmlog.DebugLevel, nil
	case "warn", "warning":
		return charmlog.WarnLevel, nil
	case "error":
		return charmlog.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", input)
	}
}
