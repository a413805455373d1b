// Package log owns the process-wide zerolog logger used by the supervisor,
// its launchers and the CLI.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Supported output formats.
const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level  string    // optional log level ("debug", "info", etc.)
	Format string    // auto, json or console
	Output io.Writer // optional writer (defaults to os.Stderr)
}

var (
	mu   sync.RWMutex
	base zerolog.Logger
)

func init() {
	Configure(Config{})
}

// Configure replaces the global logger. Callers configure once during
// startup, before any component derives a child logger.
func Configure(cfg Config) {
	level := zerolog.InfoLevel
	raw := cfg.Level
	if raw == "" {
		raw = os.Getenv("RTPSUP_LOG_LEVEL")
	}
	if raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}
	if _, ok := writer.(*os.File); !ok {
		// child output streamers and the monitor loop log concurrently
		writer = zerolog.SyncWriter(writer)
	}
	writer = wrapFormat(writer, cfg.Format)

	logger := zerolog.New(writer).With().Timestamp().Logger()

	mu.Lock()
	base = logger
	mu.Unlock()
}

func wrapFormat(w io.Writer, format string) io.Writer {
	switch strings.ToLower(format) {
	case FormatJSON:
		return w
	case FormatConsole:
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	default:
		if isTerminal(w) {
			return zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
		}
		return w
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// L returns the configured base logger.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := base
	return &l
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return L().With().Str(FieldComponent, component).Logger()
}
