package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_LevelFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	require.True(t, New().Enabled(context.Background(), slog.LevelDebug))

	t.Setenv("LOG_LEVEL", "warn")
	log := New()
	require.False(t, log.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, log.Enabled(context.Background(), slog.LevelWarn))
}

func TestNew_DefaultsToInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := New()
	require.False(t, log.Enabled(context.Background(), slog.LevelDebug))
	require.True(t, log.Enabled(context.Background(), slog.LevelInfo))

	t.Setenv("LOG_LEVEL", "loud")
	require.True(t, New().Enabled(context.Background(), slog.LevelInfo))
}
