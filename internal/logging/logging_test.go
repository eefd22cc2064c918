package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	componentLogger := Component(logger, "backfill")
	componentLogger.Warn().Int("failed", 2).Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "backfill", line["component"])
	assert.Equal(t, "warn", line["level"])
	assert.EqualValues(t, 2, line["failed"])
}

func TestNewWithWriterEmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "", "json")
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	logger.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewWithWriterBadLevel(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "loud", "json")
	assert.Error(t, err)
}
