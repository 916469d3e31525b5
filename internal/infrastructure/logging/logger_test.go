package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-orchestrator/internal/infrastructure/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record))
	return record
}

func TestNew_ReturnsLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		logger := New(config.LoggingConfig{Level: "info", Format: format, Output: "stderr"}, "node-a", "1.0.0")
		assert.NotNil(t, logger, format)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestNewWithWriter_DefaultAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf, "rack-1", "2.3.4")

	logger.Info("hello", "port", 8090)

	record := decodeLine(t, &buf)
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, ServiceName, record["service"])
	assert.Equal(t, "2.3.4", record["version"])
	assert.Equal(t, "rack-1", record["host"])
	assert.EqualValues(t, 8090, record["port"])
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, &buf, "h", "v")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, &buf, "h", "v")

	logger.Debug("plain")
	line := buf.String()
	assert.True(t, strings.Contains(line, "msg=plain"), line)
	assert.Contains(t, line, "service="+ServiceName)
}

func TestComponentAndDevice(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf, "h", "v")

	base.Component("lifecycle").Device("station").Info("state changed")

	record := decodeLine(t, &buf)
	assert.Equal(t, "lifecycle", record["component"])
	assert.Equal(t, "station", record["device"])
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf, "h", "v")
	_ = base.With("extra", "x")

	base.Info("parent")
	record := decodeLine(t, &buf)
	_, has := record["extra"]
	assert.False(t, has)
}

func TestDefaultAndDiscard(t *testing.T) {
	assert.NotNil(t, Default())

	d := Discard()
	require.NotNil(t, d)
	d.Error("nothing happens")
}
