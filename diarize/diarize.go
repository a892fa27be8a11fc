// Package diarize partitions audio into speaker turns.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bosley/parley/segment"
)

// ErrAuth marks failures caused by a missing or rejected access token
var ErrAuth = errors.New("diarization credential rejected")

// Diarizer produces ordered speaker turns (no text) for an audio file.
// token is only read and must not be retained after Diarize returns.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, token []byte) ([]segment.TimeSegment, error)
	Name() string
}

// Config selects a diarization backend; an empty backend disables diarization
type Config struct {
	Backend  string         `yaml:"backend"` // "pyannote" or "none"
	Pyannote PyannoteConfig `yaml:"pyannote"`
}

// New builds the configured backend. It returns nil, nil when diarization is disabled.
func New(cfg Config) (Diarizer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "pyannote":
		return NewPyannote(cfg.Pyannote), nil
	default:
		return nil, fmt.Errorf("unknown diarization backend: %s", cfg.Backend)
	}
}

// Relabel renames speakers to "1", "2", ... in order of first appearance,
// so labels are stable for a run regardless of the backend's scheme
func Relabel(turns []segment.TimeSegment) []segment.TimeSegment {
	names := make(map[string]string)
	out := make([]segment.TimeSegment, len(turns))
	for i, t := range turns {
		name, ok := names[t.Speaker]
		if !ok {
			name = strconv.Itoa(len(names) + 1)
			names[t.Speaker] = name
		}
		t.Speaker = name
		t.Text = ""
		out[i] = t
	}
	return out
}
