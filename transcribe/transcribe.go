// Package transcribe runs automatic speech recognition over an audio file and
// returns time-stamped text segments.
package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bosley/parley/segment"
)

// Request describes one transcription run
type Request struct {
	AudioPath string
	Model     Model

	// OnProgress, when set, receives backend-native progress in [0,1]
	OnProgress func(fraction float64)
}

// Result holds ordered ASR segments and the detected language
type Result struct {
	Language string
	Segments []segment.TimeSegment

	// Duration is the audio length as seen by the backend, 0 if unknown
	Duration time.Duration
}

// Transcriber produces ordered text segments for an audio file
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)

	// Name returns the backend name (e.g., "whispercpp", "openai")
	Name() string
}

// Config selects and configures a transcription backend
type Config struct {
	Backend    string           `yaml:"backend"` // "whispercpp" or "openai"
	WhisperCpp WhisperCppConfig `yaml:"whispercpp"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
}

// New builds the backend named by cfg.Backend
func New(cfg Config) (Transcriber, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "whispercpp":
		return NewWhisperCpp(cfg.WhisperCpp)
	case "openai":
		return NewOpenAI(cfg.OpenAI)
	default:
		return nil, fmt.Errorf("unknown transcription backend: %s", cfg.Backend)
	}
}

func report(fn func(float64), fraction float64) {
	if fn != nil {
		fn(min(max(fraction, 0), 1))
	}
}
