package job

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bosley/parley/diarize"
	"github.com/bosley/parley/history"
	"github.com/bosley/parley/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClockedJob() (*Job, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	return newJob(Request{Source: "a.wav"}, transcribe.Base, clock.now), clock
}

func TestStateHelpers(t *testing.T) {
	assert.Equal(t, "TranscribingAudio", TranscribingAudio.String())
	assert.Equal(t, "Transcribing audio... This may take a while.", TranscribingAudio.Label())
	assert.Equal(t, "State(42)", State(42).String())

	for _, s := range []State{Done, Cancelled, Failed} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{Idle, Validating, TranscribingAudio, DiarizingSpeakers, Merging, Formatting} {
		assert.False(t, s.Terminal(), s.String())
	}

	text, err := DiarizingSpeakers.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "DiarizingSpeakers", string(text))

	var parsed State
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, DiarizingSpeakers, parsed)
	assert.Error(t, parsed.UnmarshalText([]byte("Sleeping")))
}

func TestWithinPhaseIsCapped(t *testing.T) {
	assert.InDelta(t, 0.30, TranscribingAudio.within(0.5), 1e-9)
	assert.InDelta(t, 0.60*0.99, TranscribingAudio.within(3), 1e-9)
	assert.Equal(t, 0.0, TranscribingAudio.within(-1))
	assert.InDelta(t, 0.60+0.25*0.5, DiarizingSpeakers.within(0.5), 1e-9)
	assert.Less(t, Formatting.within(1), 1.0)
}

func TestTickExtrapolates(t *testing.T) {
	j, clock := newClockedJob()

	j.enter(TranscribingAudio, 10*time.Second)
	clock.advance(5 * time.Second)
	j.tick()
	assert.InDelta(t, 0.30, j.Snapshot().Fraction, 1e-9)

	// Overrunning the estimate stalls just short of the phase end
	clock.advance(time.Minute)
	j.tick()
	assert.InDelta(t, 0.60*0.99, j.Snapshot().Fraction, 1e-9)

	// A lower adapter report never moves progress backwards
	j.advance(0.1)
	assert.InDelta(t, 0.60*0.99, j.Snapshot().Fraction, 1e-9)
}

func TestTickWithoutEstimate(t *testing.T) {
	j, clock := newClockedJob()

	j.enter(TranscribingAudio, 0)
	clock.advance(time.Minute)
	j.tick()
	assert.Equal(t, 0.0, j.Snapshot().Fraction)

	j.enter(Merging, time.Second)
	clock.advance(time.Minute)
	j.tick()
	assert.Equal(t, 0.85, j.Snapshot().Fraction)
}

func TestRemainingTime(t *testing.T) {
	j, clock := newClockedJob()
	j.enter(TranscribingAudio, 0)

	clock.advance(2 * time.Second)
	j.advance(0.05) // 0.03 overall
	p := j.Snapshot()
	assert.False(t, p.RemainingKnown)

	j.advance(0.5) // 0.30 overall
	p = j.Snapshot()
	require.True(t, p.RemainingKnown)
	assert.InDelta(t, (2 * time.Second * 7 / 3).Seconds(), p.Remaining.Seconds(), 1e-6)
}

func TestProgressJSON(t *testing.T) {
	data, err := json.Marshal(Progress{
		JobID:    "abc",
		State:    TranscribingAudio,
		Phase:    TranscribingAudio.Label(),
		Fraction: 0.02,
		Elapsed:  1500 * time.Millisecond,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "TranscribingAudio", decoded["state"])
	assert.Equal(t, 1.5, decoded["elapsedSeconds"])
	assert.Contains(t, decoded, "remainingSeconds")
	assert.Nil(t, decoded["remainingSeconds"])
	assert.NotContains(t, decoded, "error")

	data, err = json.Marshal(Progress{State: Failed, Error: "nope", Kind: "IOError", RemainingKnown: false})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"IOError"`)
}

func TestLogValueOmitsToken(t *testing.T) {
	j := newJob(Request{Source: "a.wav", Token: []byte("hf_topsecret")}, transcribe.Base, time.Now)
	assert.NotContains(t, j.LogValue().String(), "hf_topsecret")
}

func TestSubscribeAfterFinish(t *testing.T) {
	j, _ := newClockedJob()
	j.enter(Merging, 0)
	j.complete(&Result{OutputPath: "a.txt"})

	ch, unsubscribe := j.Subscribe()
	defer unsubscribe()

	p, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, Done, p.State)
	assert.Equal(t, "a.txt", p.OutputPath)

	_, ok = <-ch
	assert.False(t, ok)
}

func TestTerminalStateIsFinal(t *testing.T) {
	j, _ := newClockedJob()
	j.enter(TranscribingAudio, 0)
	j.markCancelled()

	j.complete(&Result{})
	j.enter(Merging, 0)
	j.advance(0.9)

	p := j.Snapshot()
	assert.Equal(t, Cancelled, p.State)
	assert.Less(t, p.Fraction, 1.0)
	assert.Nil(t, j.Result())
}

func TestClassify(t *testing.T) {
	authErr := classify("Speaker identification", errors.Join(diarize.ErrAuth, errors.New("403")))
	assert.Equal(t, KindAuth, authErr.Kind)

	modelErr := classify("Transcription", errors.New("boom"))
	assert.Equal(t, KindModel, modelErr.Kind)
	assert.Equal(t, "Transcription failed: boom", modelErr.Error())
	assert.EqualError(t, errors.Unwrap(modelErr), "boom")
}

type speedHistory struct {
	speed float64
	err   error
}

func (s speedHistory) Speed(context.Context, string, string, string) (float64, bool, error) {
	return s.speed, s.speed > 0, s.err
}

func (s speedHistory) Record(context.Context, history.Run) error { return nil }

func TestExpectedDuration(t *testing.T) {
	ctx := context.Background()
	minute := time.Minute

	assert.Zero(t, expected(ctx, nil, phaseTranscribe, "whispercpp", transcribe.Base, 0))

	// base runs at 16x without history
	assert.Equal(t, 3750*time.Millisecond+modelLoadOverhead,
		expected(ctx, nil, phaseTranscribe, "whispercpp", transcribe.Base, minute))

	assert.Equal(t, 6*time.Second+modelLoadOverhead,
		expected(ctx, nil, phaseDiarize, "pyannote", transcribe.Base, minute))

	assert.Equal(t, 30*time.Second+modelLoadOverhead,
		expected(ctx, speedHistory{speed: 2}, phaseTranscribe, "whispercpp", transcribe.Base, minute))

	assert.Equal(t, 3750*time.Millisecond+modelLoadOverhead,
		expected(ctx, speedHistory{err: errors.New("locked")}, phaseTranscribe, "whispercpp", transcribe.Base, minute))
}
