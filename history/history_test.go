package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSpeedWithoutHistory(t *testing.T) {
	s := openTemp(t)

	_, ok, err := s.Speed(context.Background(), "whispercpp", "base", "transcribe")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpeedAveragesRecentRuns(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, Run{Backend: "whispercpp", Model: "base", Phase: "transcribe", AudioSeconds: 100, WallSeconds: 10}))
	require.NoError(t, s.Record(ctx, Run{Backend: "whispercpp", Model: "base", Phase: "transcribe", AudioSeconds: 60, WallSeconds: 10}))
	require.NoError(t, s.Record(ctx, Run{Backend: "whispercpp", Model: "large", Phase: "transcribe", AudioSeconds: 10, WallSeconds: 10}))
	require.NoError(t, s.Record(ctx, Run{Backend: "whispercpp", Model: "base", Phase: "transcribe", AudioSeconds: 0, WallSeconds: 10}))

	speed, ok, err := s.Speed(ctx, "whispercpp", "base", "transcribe")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 8.0, speed, 1e-9)

	speed, ok, err = s.Speed(ctx, "whispercpp", "large", "transcribe")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, speed, 1e-9)
}

func TestSpeedUsesWindow(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, Run{Backend: "b", Model: "m", Phase: "diarize", AudioSeconds: 1000, WallSeconds: 1}))
	for i := 0; i < window; i++ {
		require.NoError(t, s.Record(ctx, Run{Backend: "b", Model: "m", Phase: "diarize", AudioSeconds: 20, WallSeconds: 10}))
	}

	speed, ok, err := s.Speed(ctx, "b", "m", "diarize")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2.0, speed, 1e-9)
}
