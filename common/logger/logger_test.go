package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerCarriesRequester(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json")

	ctx := ContextWithRequester(context.Background(), "u-42")
	log.WithContext(ctx).WithBatchID("b-1").Info("batch started", "total", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "batch started", line["msg"])
	assert.Equal(t, "u-42", line["requester_id"])
	assert.Equal(t, "b-1", line["batch_id"])
	assert.EqualValues(t, 3, line["total"])
}

func TestErrorStackOnlyAtDebug(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "json").Error("boom")
	assert.NotContains(t, buf.String(), `"stack"`)

	buf.Reset()
	NewWithWriter(&buf, "debug", "json").Error("boom")
	assert.Contains(t, buf.String(), `"stack"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")
	log.Info("hidden")
	assert.Empty(t, buf.String())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

var _ Interface = (*Logger)(nil)
