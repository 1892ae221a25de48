package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	logger.WithFields(map[string]interface{}{
		FieldJobID:  "job-1",
		FieldSource: "parks",
	}).WithError(errors.New("boom")).Warn("source failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "source failed", entry["message"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "job-1", entry[FieldJobID])
	assert.Equal(t, "parks", entry[FieldSource])
	assert.Equal(t, "boom", entry["error"])
	assert.Contains(t, entry, "timestamp")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelWarn, Format: FormatJSON, Output: &buf})

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})

	ctx := WithLogger(context.Background(), logger)
	ctx = ContextWithFields(ctx, map[string]interface{}{FieldComponent: "aggregator"})
	FromContext(ctx).Debug("folded batch")

	assert.Contains(t, buf.String(), `"component":"aggregator"`)
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevelAndFormat(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLogLevel("chatty"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("xml"))
}
