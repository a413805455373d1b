package runtime

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogWriterSplitsLinesAcrossWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewLogWriter(zerolog.New(&buf), "frontend-0", LogSourceStdout)

	_, _ = w.Write([]byte("hel"))
	assert.Zero(t, buf.Len(), "partial line must not be logged")

	_, _ = w.Write([]byte("lo\nworld\r\nlast"))
	require.NoError(t, w.Close())

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "hello", entries[0]["message"])
	assert.Equal(t, "world", entries[1]["message"])
	assert.Equal(t, "last", entries[2]["message"])
	assert.Equal(t, "frontend-0", entries[0]["process"])
	assert.Equal(t, "stdout", entries[0]["source"])
	assert.Equal(t, "info", entries[0]["level"])
}

func TestLogWriterStderrIsWarn(t *testing.T) {
	var buf bytes.Buffer
	w := NewLogWriter(zerolog.New(&buf), "backend", LogSourceStderr)
	_, _ = w.Write([]byte("oops\n\n"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0]["level"])
}

func TestLogWriterSplitsOverlongLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewLogWriter(zerolog.New(&buf), "backend", LogSourceStdout)

	_, _ = w.Write([]byte(strings.Repeat("a", MaxLineLength-5)))
	_, _ = w.Write([]byte(strings.Repeat("b", 15)))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"), "a full buffer is flushed without a newline")

	_, _ = w.Write([]byte("\n"))
	require.NoError(t, w.Close())

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Len(t, entries[0]["message"], MaxLineLength)
	assert.Equal(t, strings.Repeat("b", 10), entries[1]["message"])
}
