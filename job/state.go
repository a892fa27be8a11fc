package job

import "fmt"

// State is a phase of a transcription job
type State int

const (
	Idle State = iota
	Validating
	TranscribingAudio
	DiarizingSpeakers
	Merging
	Formatting
	Done
	Cancelled
	Failed
)

var stateNames = [...]string{
	Idle:              "Idle",
	Validating:        "Validating",
	TranscribingAudio: "TranscribingAudio",
	DiarizingSpeakers: "DiarizingSpeakers",
	Merging:           "Merging",
	Formatting:        "Formatting",
	Done:              "Done",
	Cancelled:         "Cancelled",
	Failed:            "Failed",
}

var stateLabels = [...]string{
	Idle:              "Ready",
	Validating:        "Checking input...",
	TranscribingAudio: "Transcribing audio... This may take a while.",
	DiarizingSpeakers: "Identifying speakers...",
	Merging:           "Matching text to speakers...",
	Formatting:        "Writing transcript...",
	Done:              "Transcription complete",
	Cancelled:         "Cancelled",
	Failed:            "Failed",
}

// String returns the state identifier
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Label returns a human-readable phase description
func (s State) Label() string {
	if s < 0 || int(s) >= len(stateLabels) {
		return s.String()
	}
	return stateLabels[s]
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == Done || s == Cancelled || s == Failed
}

// MarshalText encodes the state as its identifier
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state identifier
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// span is the slice of overall progress a phase covers
type span struct {
	from, to float64
}

// Phase checkpoints. Only Done reports 1.0.
var spans = map[State]span{
	Validating:        {0, 0},
	TranscribingAudio: {0, 0.60},
	DiarizingSpeakers: {0.60, 0.85},
	Merging:           {0.85, 0.95},
	Formatting:        {0.95, 1.0},
}

// maxWithinPhase caps sub-phase progress so a phase never reports its end
// before the next phase actually begins
const maxWithinPhase = 0.99

func (s State) within(p float64) float64 {
	sp := spans[s]
	return sp.from + (sp.to-sp.from)*min(max(p, 0), maxWithinPhase)
}
