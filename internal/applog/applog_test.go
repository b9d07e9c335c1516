package applog

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGatesDebugOnVerbose(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)
	log.Debug("should not appear")
	require.Empty(t, buf.String())

	log.Info("should appear")
	require.Contains(t, buf.String(), "should appear")
}

func TestNewVerboseEmitsDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, true)
	log.Debug("debug line")
	require.Contains(t, buf.String(), "debug line")
}

func TestNewUsesSlogLevelInfoByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)
	require.False(t, log.Enabled(nil, slog.LevelDebug))
	require.True(t, log.Enabled(nil, slog.LevelInfo))
}
