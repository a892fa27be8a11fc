package segment

import (
	"cmp"
	"math"
	"slices"
	"sort"
	"strings"
)

// Merge attributes a speaker to every ASR segment by maximal temporal overlap
// with the diarization turns. Output order and length match asr exactly.
//
// Ties on overlap go to the turn with the earliest start. A zero-length
// segment has no overlap with anything, so it takes the earliest turn
// containing its instant (Start <= t < End). When no turn intersects a
// segment, the turn whose start is nearest to the segment start is used
// instead, so every segment gets a label whenever diar is non-empty.
// With an empty diar every segment is labelled Unknown.
//
// diar is only read. If it is not sorted by start a private sorted copy is used.
func Merge(asr, diar []TimeSegment) []MergedSegment {
	out := make([]MergedSegment, len(asr))
	if len(diar) == 0 {
		for i, a := range asr {
			out[i] = MergedSegment{Start: a.Start, End: a.End, Text: a.Text, Speaker: Unknown}
		}
		return out
	}

	if !Sorted(diar) {
		diar = slices.Clone(diar)
		slices.SortStableFunc(diar, func(x, y TimeSegment) int {
			return cmp.Compare(x.Start, y.Start)
		})
	}

	idx := newTurnIndex(diar)
	lo := 0
	prevStart := math.Inf(-1)
	for i, a := range asr {
		if a.Start < prevStart {
			lo = idx.firstEndingAfter(a.Start)
		} else {
			for lo < len(diar) && idx.maxEnd[lo] <= a.Start {
				lo++
			}
		}
		prevStart = a.Start

		out[i] = MergedSegment{
			Start:   a.Start,
			End:     a.End,
			Text:    a.Text,
			Speaker: idx.attribute(a, lo),
		}
	}
	return out
}

// Overlap returns the length in seconds of the intersection of a and b
func Overlap(a, b TimeSegment) float64 {
	return max(0, min(a.End, b.End)-max(a.Start, b.Start))
}

// turnIndex supports candidate lookup over diarization turns sorted by start.
// maxEnd[i] is the largest End among turns[0..i], so every turn that ends
// after t sits at or beyond the first i with maxEnd[i] > t.
type turnIndex struct {
	turns  []TimeSegment
	maxEnd []float64
}

func newTurnIndex(turns []TimeSegment) *turnIndex {
	maxEnd := make([]float64, len(turns))
	running := math.Inf(-1)
	for i, d := range turns {
		running = max(running, d.End)
		maxEnd[i] = running
	}
	return &turnIndex{turns: turns, maxEnd: maxEnd}
}

func (x *turnIndex) firstEndingAfter(t float64) int {
	return sort.Search(len(x.maxEnd), func(i int) bool { return x.maxEnd[i] > t })
}

func (x *turnIndex) attribute(a TimeSegment, lo int) string {
	best := -1
	bestOverlap := 0.0
	for j := lo; j < len(x.turns) && x.turns[j].Start < a.End; j++ {
		if ov := Overlap(a, x.turns[j]); ov > bestOverlap {
			best = j
			bestOverlap = ov
		}
	}
	if best < 0 && a.End == a.Start {
		best = x.containing(a.Start, lo)
	}
	if best < 0 {
		best = x.nearest(a.Start)
	}
	return speakerOf(x.turns[best])
}

// containing returns the earliest-starting turn with Start <= t < End, or -1.
// Turns before lo all end at or before t.
func (x *turnIndex) containing(t float64, lo int) int {
	for j := lo; j < len(x.turns) && x.turns[j].Start <= t; j++ {
		if x.turns[j].End > t {
			return j
		}
	}
	return -1
}

// nearest returns the index of the turn whose start is closest to t,
// preferring the earlier start (and lower index) on ties
func (x *turnIndex) nearest(t float64) int {
	n := len(x.turns)
	i := sort.Search(n, func(i int) bool { return x.turns[i].Start >= t })

	var pick int
	switch {
	case i == n:
		pick = n - 1
	case i == 0:
		pick = 0
	case t-x.turns[i-1].Start <= x.turns[i].Start-t:
		pick = i - 1
	default:
		pick = i
	}

	for pick > 0 && x.turns[pick-1].Start == x.turns[pick].Start {
		pick--
	}
	return pick
}

func speakerOf(d TimeSegment) string {
	if d.Speaker == "" {
		return Unknown
	}
	return d.Speaker
}

// Coalesce groups consecutive merged segments with the same speaker into turns.
// Unknown is treated as an ordinary speaker value.
func Coalesce(merged []MergedSegment) []Turn {
	var turns []Turn
	var parts []string

	flush := func() {
		if len(turns) == 0 {
			return
		}
		turns[len(turns)-1].Text = strings.Join(parts, " ")
		parts = parts[:0]
	}

	for i, m := range merged {
		if i == 0 || m.Speaker != merged[i-1].Speaker {
			flush()
			turns = append(turns, Turn{Speaker: m.Speaker, Start: m.Start})
		}
		cur := &turns[len(turns)-1]
		cur.End = m.End
		cur.Segments++
		parts = append(parts, m.Text)
	}
	flush()

	return turns
}

// FullText joins the trimmed segment texts with single spaces
func FullText(merged []MergedSegment) string {
	var b strings.Builder
	for _, m := range merged {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(text)
	}
	return b.String()
}
