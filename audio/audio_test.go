package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youpy/go-wav"
)

func writeSilentWav(t *testing.T, path string, sampleRate uint32, seconds int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	numSamples := sampleRate * uint32(seconds)
	w := wav.NewWriter(f, numSamples, 1, sampleRate, 16)
	require.NoError(t, w.WriteSamples(make([]wav.Sample, numSamples)))
}

func TestSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"meeting.wav", true},
		{"/tmp/Interview.MP3", true},
		{"clip.webm", true},
		{"notes.txt", false},
		{"noext", false},
		{"archive.wav.zip", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Supported(tt.path), tt.path)
	}
}

func TestProbeWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeSilentWav(t, path, 16000, 2)

	d, err := Probe(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, float64(2*time.Second), float64(d), float64(10*time.Millisecond))
}

func TestWavDurationMissingFile(t *testing.T) {
	_, err := wavDuration(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "boom", lastLine("first\nsecond\n  boom  \n"))
	assert.Equal(t, "", lastLine(""))
}
