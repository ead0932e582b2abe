package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrityAlarm_CarriesRequestContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "production", "info")

	ctx := WithUserID(WithRequestID(context.Background(), "req-1"), 42)
	IntegrityAlarm(ctx, "negative_balance", "category", "editing", "balance", -10)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "integrity", entry["alarm"])
	assert.Equal(t, "negative_balance", entry["reason"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.EqualValues(t, 42, entry["user_id"])
	assert.EqualValues(t, -10, entry["balance"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "production", "warn")

	Info("dropped")
	assert.Zero(t, buf.Len())

	Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
