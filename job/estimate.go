package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/bosley/parley/history"
	"github.com/bosley/parley/transcribe"
)

const (
	phaseTranscribe = "transcribe"
	phaseDiarize    = "diarize"

	// modelLoadOverhead is added to every inference estimate
	modelLoadOverhead = 5 * time.Second

	// defaultDiarizeSpeed is audio seconds per wall second without history
	defaultDiarizeSpeed = 10.0
)

// History provides and stores past run timings
type History interface {
	Speed(ctx context.Context, backend, model, phase string) (float64, bool, error)
	Record(ctx context.Context, r history.Run) error
}

// expected returns how long a phase should take for audioLen of audio,
// or 0 when it cannot be estimated
func expected(ctx context.Context, h History, phase, backend string, model transcribe.Model, audioLen time.Duration) time.Duration {
	if audioLen <= 0 {
		return 0
	}

	speed := defaultSpeed(phase, model)
	if h != nil {
		s, ok, err := h.Speed(ctx, backend, string(model), phase)
		switch {
		case err != nil:
			slog.Warn("Failed to read run history", "error", err, "phase", phase)
		case ok && s > 0:
			speed = s
		}
	}

	return time.Duration(audioLen.Seconds()/speed*float64(time.Second)) + modelLoadOverhead
}

func defaultSpeed(phase string, model transcribe.Model) float64 {
	if phase == phaseDiarize {
		return defaultDiarizeSpeed
	}
	if info, ok := transcribe.Lookup(model); ok {
		return info.Speed
	}
	return 1
}
