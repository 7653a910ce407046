package logging

import (
	"bytes"
	"encoding/json"
	log "log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"":       log.LevelInfo,
		"debug":  log.LevelDebug,
		" WARN ": log.LevelWarn,
		"error":  log.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	require.ErrorContains(t, err, "verbose")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "warn", NoColor: true})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("capture failed", "attempt", 2)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "capture failed")
	require.Contains(t, buf.String(), "attempt=2")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "debug", JSON: true})
	require.NoError(t, err)

	logger.Debug("turn recorded", "seq", 4)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "turn recorded", entry["msg"])
	require.EqualValues(t, 4, entry["seq"])
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Options{Level: "loud"})
	require.Error(t, err)
}
