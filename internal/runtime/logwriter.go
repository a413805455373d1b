package runtime

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jianglan89/rtp-llm/internal/log"
)

// MaxLineLength caps a buffered line; longer output is logged in pieces.
const MaxLineLength = 64 << 10

// LogWriter is an io.Writer that splits a process output stream into lines
// and logs each one with the process name and stream source attached.
type LogWriter struct {
	logger  zerolog.Logger
	process string
	source  string
	level   zerolog.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogWriter returns a writer for one output stream of a process. Stderr
// lines are logged at warn level, everything else at info.
func NewLogWriter(logger zerolog.Logger, process, source string) *LogWriter {
	level := zerolog.InfoLevel
	if source == LogSourceStderr {
		level = zerolog.WarnLevel
	}
	return &LogWriter{logger: logger, process: process, source: source, level: level}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		chunk := p
		if idx >= 0 {
			chunk = p[:idx]
		}
		if room := MaxLineLength - w.buf.Len(); len(chunk) > room {
			w.buf.Write(chunk[:room])
			w.emit()
			p = p[room:]
			continue
		}
		w.buf.Write(chunk)
		if idx < 0 {
			break
		}
		w.emit()
		p = p[idx+1:]
	}
	return total, nil
}

// Close flushes a trailing partial line.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit()
	return nil
}

func (w *LogWriter) emit() {
	line := bytes.TrimRight(w.buf.Bytes(), "\r")
	if len(line) > 0 {
		w.logger.WithLevel(w.level).
			Str(log.FieldProcess, w.process).
			Str(log.FieldSource, w.source).
			Msg(string(line))
	}
	w.buf.Reset()
}
