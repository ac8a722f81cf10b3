package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Printer is the narrow logging surface the engine and server write to.
type Printer interface {
	Printf(format string, args ...any)
}

// Discard is a Printer that drops everything.
var Discard Printer = discard{}

type discard struct{}

func (discard) Printf(string, ...any) {}

// Logger appends timestamped lines to .trunkgate/logs/trunkgate.log so
// serve-mode failures can be inspected after the process exits.
type Logger struct {
	file    *os.File
	secrets []string
}

// New creates (or reuses) the log file under the given root directory.
func New(root string) (*Logger, error) {
	logDir := filepath.Join(root, ".trunkgate", "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "trunkgate.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// Redact registers secret values that must never reach the log file.
func (l *Logger) Redact(values []string) {
	if l == nil {
		return
	}
	l.secrets = append(l.secrets, values...)
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	for _, secret := range l.secrets {
		if secret != "" {
			line = strings.ReplaceAll(line, secret, "***")
		}
	}
	line = strings.TrimRight(line, "\n")
	timestamp := time.Now().Format(time.RFC3339)
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, line)
}
