package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupProdWritesJSONAtInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	var buf bytes.Buffer
	log := Setup(EnvProd, &buf)

	log.Debug("hidden")
	log.Info("shown", "room_id", "apt-123")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "apt-123", rec["room_id"])
}

func TestSetupHonoursLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	log := Setup(EnvLocal, &bytes.Buffer{})

	assert.False(t, log.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, log.Enabled(context.Background(), slog.LevelWarn))
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel("Debug")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelDebug, l)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}
