package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"loud":  zapcore.InfoLevel,
		"":      zapcore.InfoLevel,
	}
	for name, want := range tests {
		assert.Equal(t, want, Level(name).Level(), name)
	}
}

func TestNewWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	logger, err := New(Config{Level: "warn", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Named("frame").Warn("swapchain recreated", zap.Int("images", 3))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "swapchain recreated", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "frame", entry["logger"])
	assert.Equal(t, float64(3), entry["images"])
	assert.Contains(t, entry, "ts")
}
