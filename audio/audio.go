package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/youpy/go-wav"
)

const (
	whisperSampleRate = 16000 // Rate required by Whisper
	channels          = 1     // Mono audio
)

// SupportedFormats lists the container extensions accepted for transcription
var SupportedFormats = []string{
	".mp3", ".wav", ".m4a", ".flac", ".ogg",
	".wma", ".aac", ".opus", ".webm", ".mp4",
}

// Supported reports whether the file extension is a known audio/video container
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range SupportedFormats {
		if ext == f {
			return true
		}
	}
	return false
}

// Probe returns the playback duration of an audio file.
// WAV files are read directly, everything else goes through ffprobe.
func Probe(ctx context.Context, path string) (time.Duration, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		d, err := wavDuration(path)
		if err == nil {
			return d, nil
		}
		// Some WAV variants (extensible, float) are easier left to ffprobe
	}
	return ffprobeDuration(ctx, path)
}

func wavDuration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)
	if _, err := reader.Format(); err != nil {
		return 0, fmt.Errorf("failed to read WAV format: %w", err)
	}

	d, err := reader.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV duration: %w", err)
	}
	return d, nil
}

func ffprobeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ResampleForWhisper writes a 16kHz mono copy of inputPath into dir and
// returns its path. The source file is left untouched.
func ResampleForWhisper(ctx context.Context, inputPath, dir string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(dir, base+"_whisper.wav")

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ar", strconv.Itoa(whisperSampleRate),
		"-ac", strconv.Itoa(channels),
		"-y", // Overwrite output file
		outputPath)

	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to resample audio: %w: %s", err, lastLine(string(out)))
	}

	return outputPath, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
