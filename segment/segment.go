package segment

import "fmt"

// Unknown is the speaker assigned when no diarization data exists
const Unknown = "unknown"

// TimeSegment is a span of audio with either text (ASR) or a speaker label (diarization)
type TimeSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text,omitempty"`
	Speaker string  `json:"speaker,omitempty"`
}

// Validate checks the span invariants of a single segment
func (s TimeSegment) Validate() error {
	if s.Start < 0 || s.End < 0 {
		return fmt.Errorf("segment [%.3f, %.3f) has a negative bound", s.Start, s.End)
	}
	if s.End < s.Start {
		return fmt.Errorf("segment [%.3f, %.3f) ends before it starts", s.Start, s.End)
	}
	return nil
}

// ValidateAll checks every segment and reports the first offender
func ValidateAll(segs []TimeSegment) error {
	for i, s := range segs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}

// MergedSegment is an ASR segment with its attributed speaker
type MergedSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
}

// Turn is a maximal run of consecutive merged segments from one speaker
type Turn struct {
	Speaker  string  `json:"speaker"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Text     string  `json:"text"`
	Segments int     `json:"segments"`
}

// Sorted reports whether segs is non-decreasing in Start
func Sorted(segs []TimeSegment) bool {
	for i := 1; i < len(segs); i++ {
		if segs[i].Start < segs[i-1].Start {
			return false
		}
	}
	return true
}
