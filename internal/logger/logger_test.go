package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Levels(t *testing.T) {
	log, err := NewLogger("debug", "json", "sagerspace-tracker")
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = NewLogger("bogus", "console", "")
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.DebugLevel))
	require.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestBuild_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := build(zapcore.InfoLevel, "json", "sagerspace-tracker", zapcore.AddSync(&buf))

	log.Info("Tracker service started")
	log.Debug("dropped")
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "Tracker service started", entry["msg"])
	assert.Equal(t, "sagerspace-tracker", entry["service_name"])
	assert.Contains(t, entry, "timestamp")
}
