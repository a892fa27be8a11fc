package transcribe

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bosley/parley/audio"
	"github.com/bosley/parley/segment"
)

const (
	stderrTail    = 5
	maxStderrLine = 1 << 20
)

var progressLine = regexp.MustCompile(`progress\s*=\s*(\d+)%`)

// WhisperCppConfig configures the whisper.cpp command line backend
type WhisperCppConfig struct {
	// Path to whisper executable
	Path string `yaml:"path"`

	// Directory holding ggml model files
	ModelsDir string `yaml:"models_dir"`

	// Language code, "auto" to detect
	Language string `yaml:"language"`

	// Number of threads (0 = whisper default)
	Threads int `yaml:"threads"`
}

// WhisperCpp transcribes by running the whisper.cpp CLI
type WhisperCpp struct {
	config   WhisperCppConfig
	resample func(ctx context.Context, inputPath, dir string) (string, error)
}

// NewWhisperCpp creates a whisper.cpp backend
func NewWhisperCpp(cfg WhisperCppConfig) (*WhisperCpp, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("whisper executable path not configured")
	}
	if cfg.ModelsDir == "" {
		return nil, fmt.Errorf("whisper models directory not configured")
	}
	if cfg.Language == "" {
		cfg.Language = "auto"
	}
	return &WhisperCpp{
		config:   cfg,
		resample: audio.ResampleForWhisper,
	}, nil
}

// Name returns the backend name
func (w *WhisperCpp) Name() string {
	return "whispercpp"
}

// Transcribe resamples the audio to 16kHz mono and runs whisper.cpp on it
func (w *WhisperCpp) Transcribe(ctx context.Context, req Request) (*Result, error) {
	info, ok := Lookup(req.Model)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", req.Model)
	}

	modelPath := filepath.Join(w.config.ModelsDir, info.File)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper model %s not available: %w", info.File, err)
	}

	tmpDir, err := os.MkdirTemp("", "parley-whisper-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	wavPath, err := w.resample(ctx, req.AudioPath, tmpDir)
	if err != nil {
		return nil, err
	}

	outBase := filepath.Join(tmpDir, "transcript")
	args := []string{
		"--model", modelPath,
		"--file", wavPath,
		"--language", w.config.Language,
		"--output-json",
		"--output-file", outBase,
		"--print-progress",
	}
	if w.config.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(w.config.Threads))
	}

	cmd := exec.CommandContext(ctx, w.config.Path, args...)
	cmd.Stdout = io.Discard
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach whisper stderr: %w", err)
	}

	slog.Debug("Executing whisper command",
		"command", cmd.String(),
		"model", req.Model)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start whisper: %w", err)
	}

	tail := scanProgress(stderr, req.OnProgress)

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			slog.Debug("Whisper command failed",
				"stderr", tail,
				"exitCode", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("whisper execution failed: %w: %s", err, tail)
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}

	result, err := parseWhisperCppJSON(data)
	if err != nil {
		return nil, err
	}
	report(req.OnProgress, 1)

	slog.Debug("Whisper output parsed",
		"segments", len(result.Segments),
		"language", result.Language)

	return result, nil
}

// scanProgress forwards "progress = NN%" lines to fn and returns the last few
// other lines for error reporting
func scanProgress(r io.Reader, fn func(float64)) string {
	var tail []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := progressLine.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil {
				report(fn, float64(pct)/100)
			}
			continue
		}
		tail = append(tail, line)
		if len(tail) > stderrTail {
			tail = tail[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Stopped reading whisper output", "error", err)
		tail = append(tail, fmt.Sprintf("(output truncated: %v)", err))
	}

	// Drain the rest so the child never blocks writing stderr
	io.Copy(io.Discard, r)

	return strings.Join(tail, "; ")
}

type whisperCppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperCppJSON(data []byte) (*Result, error) {
	var parsed whisperCppOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse whisper output: %w", err)
	}

	result := &Result{Language: languageCode(parsed.Result.Language)}
	for _, t := range parsed.Transcription {
		text := strings.TrimSpace(t.Text)

		// Skip empty lines and blank audio markers
		if text == "" || strings.Contains(text, "[BLANK_AUDIO]") {
			continue
		}

		start := float64(t.Offsets.From) / 1000
		end := max(float64(t.Offsets.To)/1000, start)
		result.Segments = append(result.Segments, segment.TimeSegment{
			Start: start,
			End:   end,
			Text:  text,
		})
	}

	slices.SortStableFunc(result.Segments, func(a, b segment.TimeSegment) int {
		return cmp.Compare(a.Start, b.Start)
	})
	if n := len(result.Segments); n > 0 {
		result.Duration = time.Duration(result.Segments[n-1].End * float64(time.Second))
	}
	return result, nil
}
