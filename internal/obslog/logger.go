// Package obslog provides the repo's two logging styles: a plain
// multi-writer *log.Logger for Sentinel Runtime processes and a
// zerolog.Logger for the Hub, where per-connection and per-command
// structured fields make correlation across thousands of events
// tractable.
package obslog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the Sentinel Runtime's operational logger: terse, prefixed,
// writing to stdout/stderr plus a daily file. In JSON mode stdout is
// reserved for JSON-RPC frames, so console output moves to stderr.
type Logger struct {
	file   *os.File
	logger *log.Logger
}

// New creates a daily log file under dir/componentID_YYYYMMDD.log and
// tees it with the console writer appropriate to jsonMode.
func New(dir, componentID string, jsonMode bool) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s_%s.log", componentID, time.Now().Format("20060102"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	console := io.Writer(os.Stdout)
	if jsonMode {
		console = os.Stderr
	}

	return &Logger{
		file:   f,
		logger: log.New(io.MultiWriter(console, f), "", log.Ldate|log.Ltime),
	}, nil
}

func (l *Logger) Info(format string, v ...any)    { l.logger.Printf("[INFO] "+format, v...) }
func (l *Logger) Warn(format string, v ...any)    { l.logger.Printf("[WARN] "+format, v...) }
func (l *Logger) Error(format string, v ...any)   { l.logger.Printf("[ERROR] "+format, v...) }
func (l *Logger) Close() error                    { return l.file.Close() }

// NewHub builds the Hub's structured logger. component tags every line
// (e.g. "orchestrator", "supervisor", "transport") so a grep across a
// busy Hub process stays scoped to one subsystem.
func NewHub(component string, jsonMode bool) zerolog.Logger {
	var out io.Writer = os.Stdout
	if !jsonMode {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("component", component).Logger()
}
