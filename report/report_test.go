package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bosley/parley/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transcribedAt = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func sampleMerged() []segment.MergedSegment {
	return []segment.MergedSegment{
		{Start: 0, End: 2.5, Text: "Hello there.", Speaker: "1"},
		{Start: 2.5, End: 4, Text: "How are you?", Speaker: "1"},
		{Start: 4.25, End: 3725.5, Text: "Fine, thanks.", Speaker: "2"},
	}
}

func TestFormatWithAllSections(t *testing.T) {
	got := Format(Header{
		Source:      "/recordings/standup.m4a",
		Language:    "en",
		Model:       "base",
		Backend:     "whispercpp",
		Speakers:    true,
		Transcribed: transcribedAt,
	}, sampleMerged(), Options{Timestamps: true})

	want := strings.Join([]string{
		"============================================================",
		"AUDIO TRANSCRIPTION",
		"============================================================",
		"",
		"Source File: standup.m4a",
		"Detected Language: en",
		"Model Used: base",
		"Backend: whispercpp",
		"Speaker Identification: Yes",
		"Transcribed: 2026-03-14 09:26:53",
		"",
		"------------------------------------------------------------",
		"",
		"TIMESTAMPED TRANSCRIPTION:",
		"",
		"[00:00:00.000 --> 00:00:02.500]",
		"Hello there.",
		"",
		"[00:00:02.500 --> 00:00:04.000]",
		"How are you?",
		"",
		"[00:00:04.250 --> 01:02:05.500]",
		"Fine, thanks.",
		"",
		"------------------------------------------------------------",
		"",
		"CONVERSATION:",
		"",
		"Speaker 1:",
		"    Hello there. How are you?",
		"",
		"Speaker 2:",
		"    Fine, thanks.",
		"",
		"------------------------------------------------------------",
		"",
		"FULL TRANSCRIPTION:",
		"",
		"Hello there. How are you? Fine, thanks.",
		"",
		"============================================================",
		"",
	}, "\n")

	assert.Equal(t, want, got)
}

func TestFormatMinimal(t *testing.T) {
	got := Format(Header{
		Source:      "memo.wav",
		Model:       "tiny",
		Transcribed: transcribedAt,
	}, sampleMerged(), Options{})

	assert.NotContains(t, got, "TIMESTAMPED TRANSCRIPTION:")
	assert.NotContains(t, got, "CONVERSATION:")
	assert.NotContains(t, got, "Backend:")
	assert.Contains(t, got, "Detected Language: unknown\n")
	assert.Contains(t, got, "Speaker Identification: No\n")
	assert.Contains(t, got, "FULL TRANSCRIPTION:\n\nHello there. How are you? Fine, thanks.\n\n")
}

func TestFormatIsIdempotent(t *testing.T) {
	h := Header{Source: "a.wav", Language: "de", Model: "small", Speakers: true, Transcribed: transcribedAt}
	opts := Options{Timestamps: true}

	assert.Equal(t, Format(h, sampleMerged(), opts), Format(h, sampleMerged(), opts))
}

func TestFormatEmptyTranscript(t *testing.T) {
	got := Format(Header{Source: "silence.wav", Model: "base", Speakers: true, Transcribed: transcribedAt}, nil, Options{Timestamps: true})

	assert.NotContains(t, got, "TIMESTAMPED TRANSCRIPTION:")
	assert.NotContains(t, got, "CONVERSATION:")
	assert.True(t, strings.HasSuffix(got, "FULL TRANSCRIPTION:\n\n\n\n"+heavyRule+"\n"))
}

func TestTimestamp(t *testing.T) {
	tests := map[float64]string{
		0:         "00:00:00.000",
		1.5:       "00:00:01.500",
		59.9999:   "00:01:00.000",
		61.042:    "00:01:01.042",
		3600:      "01:00:00.000",
		36000.001: "10:00:00.001",
		-3:        "00:00:00.000",
	}
	for in, want := range tests {
		assert.Equal(t, want, Timestamp(in), "%v", in)
	}
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "/data/call.txt", OutputPath("/data/call.mp3"))
	assert.Equal(t, "/data/v1.2/call.txt", OutputPath("/data/v1.2/call.webm"))
	assert.Equal(t, "noext.txt", OutputPath("noext"))
}

func TestWriteOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.txt")
	require.NoError(t, os.WriteFile(path, []byte("old contents that are longer"), 0o644))

	require.NoError(t, Write(path, "new"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestWriteFailure(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "missing", "call.txt"), "x")
	assert.Error(t, err)
}
