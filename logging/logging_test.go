// ABOUTME: Tests for logger construction
// ABOUTME: Checks level filtering and each output format
package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("sync run started", "trigger", "cli")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "sync run started")
	assert.Contains(t, out, "trigger=cli")
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "DEBUG", Format: "json", Output: &buf})
	require.NoError(t, err)

	logger.Debug("stage complete", "resource", "companies", "upserted", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stage complete", entry["msg"])
	assert.Equal(t, "companies", entry["resource"])
	assert.Equal(t, "debug", entry["level"])
}

func TestNewLogfmtFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "logfmt", Output: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("retrying", "attempt", 2)

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "msg=retrying")
	assert.Contains(t, out, "attempt=2")
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Config{Format: "xml"})
	assert.Error(t, err)
}
