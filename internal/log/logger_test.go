package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Format: FormatJSON, Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	logger := WithComponent("procmgr")
	logger.Debug().Str(FieldProcess, "backend").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "procmgr", entry[FieldComponent])
	assert.Equal(t, "backend", entry[FieldProcess])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "hello", entry["message"])
}

func TestConfigureLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "warn", Format: FormatJSON, Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	L().Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	L().Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestConsoleFormatIsHumanReadable(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Format: FormatConsole, Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	L().Info().Str(FieldProcess, "rank-0").Msg("started")
	out := buf.String()
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "process=")
	assert.NotContains(t, out, `"message"`)
}

func TestAutoFormatFallsBackToJSONForBuffers(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	L().Info().Msg("plain")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
