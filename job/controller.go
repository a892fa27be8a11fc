// Package job drives a transcription run through its phases on a background
// goroutine and reports progress to the presentation layer.
//
// Only one job runs at a time. Cancellation is cooperative: the job stops at
// the next checkpoint (between adapter calls, after merging, before writing).
// Subprocess backends are killed when the job context is cancelled, but an
// in-flight inference call may still run to completion first.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bosley/parley/audio"
	"github.com/bosley/parley/diarize"
	"github.com/bosley/parley/history"
	"github.com/bosley/parley/report"
	"github.com/bosley/parley/segment"
	"github.com/bosley/parley/transcribe"
	"github.com/google/uuid"
)

const (
	defaultInterval = 500 * time.Millisecond
	defaultKeep     = 16
)

// Request asks for one transcription run
type Request struct {
	Source     string
	Model      string
	Diarize    bool
	Timestamps bool

	// Token is the diarization credential. Start takes ownership of the
	// slice and zeroes it when the job ends.
	Token []byte
}

// Options configures a Controller
type Options struct {
	Transcriber transcribe.Transcriber
	Diarizer    diarize.Diarizer // nil disables speaker identification
	History     History          // optional

	// Interval between extrapolated progress updates
	Interval time.Duration

	// Keep is how many finished jobs stay retrievable
	Keep int

	// Overridable for tests
	Probe func(ctx context.Context, path string) (time.Duration, error)
	Write func(path, text string) error
	Now   func() time.Time
}

// Controller owns the single active job and the registry of recent ones
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	interval time.Duration
	keep     int
	history  History
	probe    func(ctx context.Context, path string) (time.Duration, error)
	write    func(path, text string) error
	now      func() time.Time

	mu          sync.Mutex
	transcriber transcribe.Transcriber
	diarizer    diarize.Diarizer
	active      *Job
	jobs        map[uuid.UUID]*Job
	order       []uuid.UUID
}

// New creates a Controller
func New(opts Options) (*Controller, error) {
	if opts.Transcriber == nil {
		return nil, fmt.Errorf("a transcriber is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Keep <= 0 {
		opts.Keep = defaultKeep
	}
	if opts.Probe == nil {
		opts.Probe = audio.Probe
	}
	if opts.Write == nil {
		opts.Write = report.Write
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		ctx:         ctx,
		cancel:      cancel,
		interval:    opts.Interval,
		keep:        opts.Keep,
		history:     opts.History,
		probe:       opts.Probe,
		write:       opts.Write,
		now:         opts.Now,
		transcriber: opts.Transcriber,
		diarizer:    opts.Diarizer,
		jobs:        make(map[uuid.UUID]*Job),
	}, nil
}

// SetBackends swaps the adapters used by subsequent jobs. A running job
// keeps the adapters it started with.
func (c *Controller) SetBackends(t transcribe.Transcriber, d diarize.Diarizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t != nil {
		c.transcriber = t
	}
	c.diarizer = d
}

// Backend returns the name of the current transcription backend
func (c *Controller) Backend() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcriber.Name()
}

// SpeakerIdentification reports whether a diarizer is configured
func (c *Controller) SpeakerIdentification() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diarizer != nil
}

// Start validates req and launches the job in the background. It returns
// ErrBusy without creating a job if one is already active. On a validation
// failure the returned job is already Failed and the error is its *Error.
func (c *Controller) Start(req Request) (*Job, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("controller is shut down")
	}

	model, modelErr := transcribe.ParseModel(req.Model)
	j := newJob(req, model, c.now)
	if modelErr != nil {
		j.Model = transcribe.Model(req.Model)
	}
	c.register(j)
	c.active = j
	tr, di := c.transcriber, c.diarizer
	c.mu.Unlock()

	j.enter(Validating, 0)
	if err := c.validate(j, modelErr, di); err != nil {
		slog.Info("Job rejected", "job", j, "reason", err.Reason)
		j.fail(err, nil)
		c.finish(j)
		return j, err
	}

	ctx, cancel := context.WithCancel(c.ctx)
	j.setCancel(cancel)

	slog.Info("Job started", "job", j, "backend", tr.Name())

	c.wg.Add(1)
	go c.run(ctx, j, tr, di)

	return j, nil
}

// Get returns a job from the registry
func (c *Controller) Get(id uuid.UUID) (*Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	return j, ok
}

// Active returns the running job, or nil
func (c *Controller) Active() *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Cancel requests cancellation of the job with the given id
func (c *Controller) Cancel(id uuid.UUID) (bool, error) {
	j, ok := c.Get(id)
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	return j.Cancel(), nil
}

// Close cancels the active job and waits for it to stop or ctx to end
func (c *Controller) Close(ctx context.Context) error {
	c.cancel()
	if j := c.Active(); j != nil {
		j.Cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out")
	}
}

func (c *Controller) register(j *Job) {
	c.jobs[j.ID] = j
	c.order = append(c.order, j.ID)

	for len(c.order) > c.keep {
		oldest := c.order[0]
		if c.active != nil && c.active.ID == oldest {
			break
		}
		delete(c.jobs, oldest)
		c.order = c.order[1:]
	}
}

func (c *Controller) validate(j *Job, modelErr error, di diarize.Diarizer) *Error {
	if strings.TrimSpace(j.Source) == "" {
		return validationError("no source file selected")
	}

	info, err := os.Stat(j.Source)
	if err != nil {
		if os.IsNotExist(err) {
			return validationError("audio file not found: %s", j.Source)
		}
		return validationError("cannot read audio file %s: %v", j.Source, err)
	}
	if info.IsDir() {
		return validationError("%s is a directory, not an audio file", j.Source)
	}
	if !audio.Supported(j.Source) {
		return validationError("this file format is not supported; supported formats: %s",
			strings.Join(audio.SupportedFormats, ", "))
	}
	if modelErr != nil {
		return validationError("%v", modelErr)
	}
	if j.Diarize && len(j.token) == 0 {
		return validationError("speaker identification requires an access token")
	}
	if j.Diarize && di == nil {
		return validationError("speaker identification is not configured")
	}
	return nil
}

func (c *Controller) finish(j *Job) {
	c.mu.Lock()
	if c.active == j {
		c.active = nil
	}
	c.mu.Unlock()

	j.release()
}

// checkpoint ends the job as Cancelled if cancellation was requested
func checkpoint(j *Job) bool {
	if j.cancelRequested() {
		j.markCancelled()
		return true
	}
	return false
}

func (c *Controller) run(ctx context.Context, j *Job, tr transcribe.Transcriber, di diarize.Diarizer) {
	defer c.wg.Done()
	defer func() {
		c.finish(j)
		p := j.Snapshot()
		slog.Info("Job finished",
			"job", j,
			"state", p.State,
			"elapsed", p.Elapsed.Round(time.Millisecond),
			"error", p.Error)
	}()

	stopTicker := c.startTicker(j)
	defer stopTicker()

	audioLen, err := c.probe(ctx, j.Source)
	if err != nil {
		slog.Warn("Could not determine audio duration, progress will follow the backend until it reports one",
			"error", err,
			"file", j.Source)
		audioLen = 0
	}
	if checkpoint(j) {
		return
	}

	// Transcription
	j.enter(TranscribingAudio, expected(ctx, c.history, phaseTranscribe, tr.Name(), j.Model, audioLen))
	began := c.now()
	res, err := tr.Transcribe(ctx, transcribe.Request{
		AudioPath:  j.Source,
		Model:      j.Model,
		OnProgress: j.advance,
	})
	if checkpoint(j) {
		return
	}
	if err == nil {
		err = segment.ValidateAll(res.Segments)
	}
	if err != nil {
		j.fail(classify("Transcription", err), nil)
		return
	}
	if audioLen <= 0 && res.Duration > 0 {
		audioLen = res.Duration
	}
	c.record(tr.Name(), string(j.Model), phaseTranscribe, audioLen, c.now().Sub(began))

	slog.Debug("Transcription complete",
		"jobID", j.ID,
		"segments", len(res.Segments),
		"language", res.Language)

	// Diarization
	var turns []segment.TimeSegment
	if j.Diarize {
		j.enter(DiarizingSpeakers, expected(ctx, c.history, phaseDiarize, di.Name(), j.Model, audioLen))
		began = c.now()
		turns, err = di.Diarize(ctx, j.Source, j.token)
		if checkpoint(j) {
			return
		}
		if err == nil {
			err = segment.ValidateAll(turns)
		}
		if err != nil {
			j.fail(classify("Speaker identification", err), nil)
			return
		}
		c.record(di.Name(), string(j.Model), phaseDiarize, audioLen, c.now().Sub(began))

		slog.Debug("Diarization complete", "jobID", j.ID, "turns", len(turns))
	}

	// Merge
	j.enter(Merging, 0)
	merged := segment.Merge(res.Segments, turns)
	if checkpoint(j) {
		return
	}

	// Format and write
	j.enter(Formatting, 0)
	text := report.Format(report.Header{
		Source:      j.Source,
		Language:    res.Language,
		Model:       string(j.Model),
		Backend:     tr.Name(),
		Speakers:    j.Diarize,
		Transcribed: c.now(),
	}, merged, report.Options{Timestamps: j.Timestamps})

	result := &Result{
		Report:     text,
		OutputPath: report.OutputPath(j.Source),
		Language:   res.Language,
		Backend:    tr.Name(),
		Segments:   merged,
		Turns:      segment.Coalesce(merged),
	}
	if checkpoint(j) {
		return
	}

	if err := c.write(result.OutputPath, text); err != nil {
		j.fail(&Error{
			Kind:   KindIO,
			Reason: fmt.Sprintf("could not save transcript to %s: %v", result.OutputPath, err),
			Err:    err,
		}, result)
		return
	}

	j.complete(result)
}

func (c *Controller) startTicker(j *Job) func() {
	ticker := time.NewTicker(c.interval)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				j.tick()
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(stop)
		wg.Wait()
	}
}

func (c *Controller) record(backend, model, phase string, audioLen, took time.Duration) {
	if c.history == nil {
		return
	}
	err := c.history.Record(context.Background(), history.Run{
		Backend:      backend,
		Model:        model,
		Phase:        phase,
		AudioSeconds: audioLen.Seconds(),
		WallSeconds:  took.Seconds(),
		At:           c.now(),
	})
	if err != nil {
		slog.Warn("Failed to record run timing", "error", err, "phase", phase)
	}
}
