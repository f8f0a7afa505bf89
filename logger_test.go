package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewJSONLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padctl.log")
	log, err := newLogger(LoggerConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	log.Debug("state change", zap.String("to", "idle"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "state change", entry["msg"])
	assert.Equal(t, "idle", entry["to"])
	assert.Contains(t, entry, "time")
}

func TestLoggerLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padctl.log")
	log, err := newLogger(LoggerConfig{Level: "warn", Format: "text", Output: path})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
	assert.Contains(t, string(data), "WARN")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"": "info", "DEBUG": "debug", "warning": "warn", "error": "error"} {
		lvl, err := parseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, lvl.String())
	}
	_, err := parseLevel("verbose")
	assert.Error(t, err)
}
