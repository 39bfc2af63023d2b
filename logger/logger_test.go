package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	buf.Reset()
	return line
}

func TestWatermillAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := NewWatermillAdapter(zerolog.New(&buf))

	a.Error("publish failed", errors.New("boom"), watermill.LogFields{"topic": "t"})
	line := decodeLine(t, &buf)
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "t", line["topic"])
	assert.Equal(t, "watermill", line["component"])

	a.With(watermill.LogFields{"subscriber": "s"}).Info("ready", nil)
	line = decodeLine(t, &buf)
	assert.Equal(t, "s", line["subscriber"])
}

func TestLeveledAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := NewLeveledAdapter(zerolog.New(&buf))

	a.Warn("retrying", "url", "http://x", "attempt", 2)
	line := decodeLine(t, &buf)
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "http://x", line["url"])
	assert.EqualValues(t, 2, line["attempt"])
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "clearway.log")
	l, closer, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, zerolog.DebugLevel, l.GetLevel())
	l.Info().Msg("hello")
	assert.FileExists(t, path)
}

func TestNewDefaultsLevel(t *testing.T) {
	l, closer, err := New(Config{Level: "nonsense"})
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}
