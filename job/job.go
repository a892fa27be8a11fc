package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bosley/parley/segment"
	"github.com/bosley/parley/transcribe"
	"github.com/google/uuid"
)

const (
	// subscriberBuffer is the channel capacity of each progress subscriber
	subscriberBuffer = 64

	// etaMinFraction is the progress needed before remaining time is extrapolated
	etaMinFraction = 0.05
)

// Result is the output of a job that got as far as formatting
type Result struct {
	Report     string
	OutputPath string
	Language   string
	Backend    string
	Segments   []segment.MergedSegment
	Turns      []segment.Turn
}

// Progress is a point-in-time snapshot of a job
type Progress struct {
	JobID          string
	State          State
	Phase          string
	Fraction       float64
	Elapsed        time.Duration
	Remaining      time.Duration
	RemainingKnown bool
	Error          string
	Kind           string
	OutputPath     string
}

// MarshalJSON encodes durations as seconds
func (p Progress) MarshalJSON() ([]byte, error) {
	out := struct {
		JobID      string   `json:"jobId"`
		State      State    `json:"state"`
		Phase      string   `json:"phase"`
		Fraction   float64  `json:"fraction"`
		Elapsed    float64  `json:"elapsedSeconds"`
		Remaining  *float64 `json:"remainingSeconds"`
		Error      string   `json:"error,omitempty"`
		Kind       string   `json:"kind,omitempty"`
		OutputPath string   `json:"outputPath,omitempty"`
	}{
		JobID:      p.JobID,
		State:      p.State,
		Phase:      p.Phase,
		Fraction:   p.Fraction,
		Elapsed:    p.Elapsed.Seconds(),
		Error:      p.Error,
		Kind:       p.Kind,
		OutputPath: p.OutputPath,
	}
	if p.RemainingKnown {
		r := p.Remaining.Seconds()
		out.Remaining = &r
	}
	return json.Marshal(out)
}

// Job is one transcription run owned by a Controller
type Job struct {
	ID         uuid.UUID
	Source     string
	Model      transcribe.Model
	Diarize    bool
	Timestamps bool

	// token is write-only: never logged, never exposed, zeroed when the run ends
	token []byte

	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	now       func() time.Time

	mu            sync.Mutex
	state         State
	fraction      float64
	started       time.Time
	finished      time.Time
	phaseStarted  time.Time
	phaseExpected time.Duration
	err           *Error
	result        *Result
	subscribers   map[int]chan Progress
	nextSub       int
}

func newJob(req Request, model transcribe.Model, now func() time.Time) *Job {
	return &Job{
		ID:          uuid.New(),
		Source:      req.Source,
		Model:       model,
		Diarize:     req.Diarize,
		Timestamps:  req.Timestamps,
		token:       req.Token,
		done:        make(chan struct{}),
		now:         now,
		state:       Idle,
		started:     now(),
		subscribers: make(map[int]chan Progress),
	}
}

// LogValue keeps the token out of structured logs
func (j *Job) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", j.ID.String()),
		slog.String("source", j.Source),
		slog.String("model", string(j.Model)),
		slog.Bool("diarize", j.Diarize),
	)
}

// State returns the current state
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the failure of a Failed job
func (j *Job) Err() *Error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Result returns the job output. It is set on Done, and also on an IOError
// failure so the formatted text can still be retrieved.
func (j *Job) Result() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Done is closed when the job reaches a terminal state
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends
func (j *Job) Wait(ctx context.Context) (Progress, error) {
	select {
	case <-j.done:
		return j.Snapshot(), nil
	case <-ctx.Done():
		return j.Snapshot(), ctx.Err()
	}
}

// Cancel asks the job to stop at its next checkpoint.
// It returns false if the job already finished.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	terminal := j.state.Terminal()
	cancel := j.cancel
	j.mu.Unlock()
	if terminal {
		return false
	}

	j.cancelled.Store(true)
	if cancel != nil {
		cancel()
	}
	return true
}

func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Snapshot returns the current progress
func (j *Job) Snapshot() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Progress {
	end := j.now()
	if !j.finished.IsZero() {
		end = j.finished
	}
	elapsed := end.Sub(j.started)

	p := Progress{
		JobID:    j.ID.String(),
		State:    j.state,
		Phase:    j.state.Label(),
		Fraction: j.fraction,
		Elapsed:  elapsed,
	}

	switch {
	case j.state == Done:
		p.RemainingKnown = true
	case !j.state.Terminal() && j.fraction >= etaMinFraction:
		p.RemainingKnown = true
		p.Remaining = time.Duration(float64(elapsed) * (1 - j.fraction) / j.fraction)
	}

	if j.err != nil {
		p.Error = j.err.Reason
		p.Kind = j.err.Kind.String()
	}
	if j.result != nil && j.state == Done {
		p.OutputPath = j.result.OutputPath
	}
	return p
}

// Subscribe returns a channel of snapshots in publication order and a func to
// stop receiving. The terminal snapshot is always delivered, then the channel
// is closed.
func (j *Job) Subscribe() (<-chan Progress, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan Progress, subscriberBuffer)
	ch <- j.snapshotLocked()
	if j.state.Terminal() {
		close(ch)
		return ch, func() {}
	}

	id := j.nextSub
	j.nextSub++
	j.subscribers[id] = ch

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if sub, ok := j.subscribers[id]; ok {
			delete(j.subscribers, id)
			close(sub)
		}
	}
}

// publishLocked pushes the current snapshot to every subscriber. Intermediate
// snapshots are dropped for slow subscribers; terminal ones displace the
// oldest queued snapshot instead.
func (j *Job) publishLocked() {
	p := j.snapshotLocked()
	for _, ch := range j.subscribers {
		if !p.State.Terminal() {
			select {
			case ch <- p:
			default:
			}
			continue
		}
		for sent := false; !sent; {
			select {
			case ch <- p:
				sent = true
			default:
				select {
				case <-ch:
				default:
				}
			}
		}
	}

	if p.State.Terminal() {
		for id, ch := range j.subscribers {
			close(ch)
			delete(j.subscribers, id)
		}
	}
}

// enter moves the job into a running phase
func (j *Job) enter(s State, expect time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = s
	j.phaseStarted = j.now()
	j.phaseExpected = expect
	j.fraction = max(j.fraction, spans[s].from)
	j.publishLocked()
}

// advance raises progress within the current phase; p is in [0,1]
func (j *Job) advance(p float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.advanceLocked(p)
}

func (j *Job) advanceLocked(p float64) {
	if j.state.Terminal() {
		return
	}
	if f := j.state.within(p); f > j.fraction {
		j.fraction = f
		j.publishLocked()
	}
}

// tick extrapolates progress from elapsed phase time
func (j *Job) tick() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.phaseExpected <= 0 {
		return
	}
	if j.state != TranscribingAudio && j.state != DiarizingSpeakers {
		return
	}
	elapsed := j.now().Sub(j.phaseStarted)
	j.advanceLocked(float64(elapsed) / float64(j.phaseExpected))
}

// cancelRequested reports whether Cancel was called
func (j *Job) cancelRequested() bool {
	return j.cancelled.Load()
}

func (j *Job) complete(r *Result) {
	j.finish(Done, nil, r)
}

func (j *Job) fail(err *Error, r *Result) {
	j.finish(Failed, err, r)
}

func (j *Job) markCancelled() {
	j.finish(Cancelled, nil, nil)
}

func (j *Job) finish(s State, err *Error, r *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}

	j.state = s
	j.err = err
	j.result = r
	j.finished = j.now()
	if s == Done {
		j.fraction = 1
	}
	j.publishLocked()
}

// release zeroes the token and signals waiters
func (j *Job) release() {
	j.mu.Lock()
	clear(j.token)
	j.token = nil
	cancel := j.cancel
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(j.done)
}
