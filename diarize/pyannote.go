package diarize

import (
	"bytes"
	"cmp"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bosley/parley/segment"
)

//go:embed assets/pyannote_diarize.py
var pyannoteScript []byte

// authExitCode is returned by the helper when the token is missing or rejected.
// It is the only signal treated as an authentication failure; stderr text is
// never inspected for one.
const authExitCode = 3

// PyannoteConfig configures the pyannote helper backend
type PyannoteConfig struct {
	// Python interpreter, defaults to python3
	Python string `yaml:"python"`

	// Script overrides the embedded helper
	Script string `yaml:"script"`

	// Pipeline is the pretrained pipeline name
	Pipeline string `yaml:"pipeline"`
}

// Pyannote runs a pyannote.audio pipeline in a Python helper process
type Pyannote struct {
	config PyannoteConfig
}

// NewPyannote creates a pyannote backend
func NewPyannote(cfg PyannoteConfig) *Pyannote {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Pipeline == "" {
		cfg.Pipeline = "pyannote/speaker-diarization-3.1"
	}
	return &Pyannote{config: cfg}
}

// Name returns the backend name
func (p *Pyannote) Name() string {
	return "pyannote"
}

// Diarize runs the helper and returns relabelled turns sorted by start.
// The token is handed to the child through its environment only.
func (p *Pyannote) Diarize(ctx context.Context, audioPath string, token []byte) ([]segment.TimeSegment, error) {
	if len(token) == 0 {
		return nil, fmt.Errorf("%w: no access token provided", ErrAuth)
	}

	script := p.config.Script
	if script == "" {
		dir, err := os.MkdirTemp("", "parley-diarize-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		defer os.RemoveAll(dir)

		script = filepath.Join(dir, "pyannote_diarize.py")
		if err := os.WriteFile(script, pyannoteScript, 0o700); err != nil {
			return nil, fmt.Errorf("failed to write helper script: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, p.config.Python, script,
		"--audio", audioPath,
		"--pipeline", p.config.Pipeline)
	cmd.Env = append(os.Environ(), "HF_TOKEN="+string(token))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Executing diarization command", "command", cmd.String())

	if err := cmd.Run(); err != nil {
		msg := tail(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == authExitCode {
			return nil, fmt.Errorf("%w: %s", ErrAuth, msg)
		}
		return nil, fmt.Errorf("diarization failed: %w: %s", err, msg)
	}

	turns, err := parseTurns(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	slog.Debug("Diarization output parsed", "turns", len(turns))
	return turns, nil
}

type helperOutput struct {
	Turns []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Speaker string  `json:"speaker"`
	} `json:"turns"`
}

func parseTurns(data []byte) ([]segment.TimeSegment, error) {
	var parsed helperOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse diarization output: %w", err)
	}

	turns := make([]segment.TimeSegment, 0, len(parsed.Turns))
	for _, t := range parsed.Turns {
		if t.Speaker == "" {
			continue
		}
		turns = append(turns, segment.TimeSegment{
			Start:   max(t.Start, 0),
			End:     max(t.End, t.Start, 0),
			Speaker: t.Speaker,
		})
	}

	slices.SortStableFunc(turns, func(a, b segment.TimeSegment) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return Relabel(turns), nil
}

func tail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.Join(lines, "; ")
}
