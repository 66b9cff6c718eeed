package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "shipmachine.log")

	logger, err := NewLogger(Options{Level: "debug", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	bridge := logger.Named("bridge")
	bridge.Infof("mediated %s", "ship.scope")
	bridge.Debug("detail", zap.Int("tokens", 12))
	require.NoError(t, logger.Close())
	require.NoError(t, bridge.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "mediated ship.scope", entry["msg"])
	assert.Equal(t, "bridge", entry["logger"])
	assert.Equal(t, logger.SessionID(), entry["session_id"])
	assert.Equal(t, path, logger.LogPath())
	assert.Equal(t, "bridge", bridge.Component())
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := NewLogger(Options{Level: "warn", File: path})
	require.NoError(t, err)

	logger.Infof("hidden")
	logger.Warnf("shown")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(Options{Level: "verbose"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Errorf("nothing %d", 1)
	assert.NoError(t, logger.Close())
}

func TestWith(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := &Logger{zap: zap.New(core), sessionID: "s-1", closeOnce: &sync.Once{}}
	logger := base.With(zap.String("run_id", "r-1"))

	logger.Info("step complete")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r-1", entries[0].ContextMap()["run_id"])
}
