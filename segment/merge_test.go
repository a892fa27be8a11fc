package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asrSeg(start, end float64, text string) TimeSegment {
	return TimeSegment{Start: start, End: end, Text: text}
}

func turnSeg(start, end float64, speaker string) TimeSegment {
	return TimeSegment{Start: start, End: end, Speaker: speaker}
}

func speakersOf(merged []MergedSegment) []string {
	out := make([]string, len(merged))
	for i, m := range merged {
		out[i] = m.Speaker
	}
	return out
}

func TestMergePreservesASROrder(t *testing.T) {
	asr := []TimeSegment{
		asrSeg(0, 2, "one"),
		asrSeg(2, 4, "two"),
		asrSeg(4, 4, "three"),
		asrSeg(4, 9, "four"),
		asrSeg(12, 15, "five"),
	}
	diar := []TimeSegment{
		turnSeg(0, 3, "A"),
		turnSeg(3, 10, "B"),
		turnSeg(11, 20, "A"),
	}

	merged := Merge(asr, diar)

	require.Len(t, merged, len(asr))
	for i, m := range merged {
		assert.Equal(t, asr[i].Start, m.Start)
		assert.Equal(t, asr[i].End, m.End)
		assert.Equal(t, asr[i].Text, m.Text)
		assert.NotEmpty(t, m.Speaker)
	}
}

func TestMergeLargestOverlapWins(t *testing.T) {
	merged := Merge(
		[]TimeSegment{asrSeg(10, 20, "x")},
		[]TimeSegment{turnSeg(0, 12, "A"), turnSeg(12, 25, "B")},
	)
	require.Len(t, merged, 1)
	assert.Equal(t, "B", merged[0].Speaker)
}

func TestMergeTieGoesToEarlierStart(t *testing.T) {
	merged := Merge(
		[]TimeSegment{asrSeg(10, 20, "x")},
		[]TimeSegment{turnSeg(5, 15, "A"), turnSeg(15, 30, "B")},
	)
	require.Len(t, merged, 1)
	assert.Equal(t, "A", merged[0].Speaker)
}

func TestMergeWithoutDiarization(t *testing.T) {
	asr := []TimeSegment{asrSeg(0, 1, "a"), asrSeg(1, 2, "b"), asrSeg(2, 3, "c")}

	merged := Merge(asr, nil)
	assert.Equal(t, []string{Unknown, Unknown, Unknown}, speakersOf(merged))

	turns := Coalesce(merged)
	require.Len(t, turns, 1)
	assert.Equal(t, Turn{Speaker: Unknown, Start: 0, End: 3, Text: "a b c", Segments: 3}, turns[0])
}

func TestMergeNearestFallback(t *testing.T) {
	tests := []struct {
		name string
		asr  TimeSegment
		diar []TimeSegment
		want string
	}{
		{
			name: "gap closer to next turn",
			asr:  asrSeg(9, 9.5, "x"),
			diar: []TimeSegment{turnSeg(0, 2, "A"), turnSeg(10, 12, "B")},
			want: "B",
		},
		{
			name: "gap closer to previous turn",
			asr:  asrSeg(3, 3.5, "x"),
			diar: []TimeSegment{turnSeg(0, 2, "A"), turnSeg(10, 12, "B")},
			want: "A",
		},
		{
			name: "before every turn",
			asr:  asrSeg(0, 1, "x"),
			diar: []TimeSegment{turnSeg(5, 6, "A"), turnSeg(7, 8, "B")},
			want: "A",
		},
		{
			name: "after every turn",
			asr:  asrSeg(50, 51, "x"),
			diar: []TimeSegment{turnSeg(5, 6, "A"), turnSeg(7, 8, "B")},
			want: "B",
		},
		{
			name: "equal distance prefers earlier start",
			asr:  asrSeg(5, 5, "x"),
			diar: []TimeSegment{turnSeg(0, 1, "A"), turnSeg(10, 11, "B")},
			want: "A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := Merge([]TimeSegment{tt.asr}, tt.diar)
			require.Len(t, merged, 1)
			assert.Equal(t, tt.want, merged[0].Speaker)
		})
	}
}

func TestMergeLongEarlyTurnStillCandidate(t *testing.T) {
	// A's turn covers the whole recording; short B turns are interleaved
	diar := []TimeSegment{
		turnSeg(0, 100, "A"),
		turnSeg(10, 11, "B"),
		turnSeg(50, 51, "B"),
	}
	asr := []TimeSegment{
		asrSeg(10, 11, "short"),
		asrSeg(60, 70, "long"),
	}

	merged := Merge(asr, diar)
	assert.Equal(t, []string{"A", "A"}, speakersOf(merged))
}

func TestMergeDoesNotMutateDiarization(t *testing.T) {
	diar := []TimeSegment{
		turnSeg(12, 25, "B"),
		turnSeg(0, 12, "A"),
	}
	original := append([]TimeSegment(nil), diar...)

	merged := Merge([]TimeSegment{asrSeg(0, 5, "x"), asrSeg(13, 20, "y")}, diar)

	assert.Equal(t, original, diar)
	assert.Equal(t, []string{"A", "B"}, speakersOf(merged))
}

func TestMergeUnsortedASRStillAttributed(t *testing.T) {
	diar := []TimeSegment{turnSeg(0, 10, "A"), turnSeg(10, 20, "B")}
	asr := []TimeSegment{asrSeg(12, 18, "late"), asrSeg(1, 4, "early")}

	merged := Merge(asr, diar)
	assert.Equal(t, []string{"B", "A"}, speakersOf(merged))
	assert.Equal(t, "late", merged[0].Text)
}

func TestMergeEmptyInputs(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))
	assert.Empty(t, Merge(nil, []TimeSegment{turnSeg(0, 10, "A")}))
	assert.Empty(t, Coalesce(nil))
}

func TestMergeIgnoresTrailingTurns(t *testing.T) {
	diar := []TimeSegment{turnSeg(0, 5, "A"), turnSeg(100, 200, "B")}
	merged := Merge([]TimeSegment{asrSeg(0, 5, "only")}, diar)

	require.Len(t, merged, 1)
	assert.Equal(t, "A", merged[0].Speaker)
}

func TestMergeIsDeterministic(t *testing.T) {
	asr := []TimeSegment{asrSeg(0, 3, "a"), asrSeg(3, 7, "b"), asrSeg(7, 9, "c")}
	diar := []TimeSegment{turnSeg(0, 4, "A"), turnSeg(2, 8, "B"), turnSeg(8, 9, "A")}

	assert.Equal(t, Merge(asr, diar), Merge(asr, diar))
}

func TestCoalesceKeepsNonAdjacentRunsApart(t *testing.T) {
	merged := []MergedSegment{
		{Start: 0, End: 1, Text: "hi", Speaker: "A"},
		{Start: 1, End: 2, Text: "there", Speaker: "A"},
		{Start: 2, End: 3, Text: "hello", Speaker: "B"},
		{Start: 3, End: 4, Text: "again", Speaker: "A"},
	}

	turns := Coalesce(merged)

	require.Len(t, turns, 3)
	assert.Equal(t, Turn{Speaker: "A", Start: 0, End: 2, Text: "hi there", Segments: 2}, turns[0])
	assert.Equal(t, Turn{Speaker: "B", Start: 2, End: 3, Text: "hello", Segments: 1}, turns[1])
	assert.Equal(t, Turn{Speaker: "A", Start: 3, End: 4, Text: "again", Segments: 1}, turns[2])
}

func TestCoalescePreservesUnicode(t *testing.T) {
	merged := []MergedSegment{
		{Start: 0, End: 1, Text: "こんにちは", Speaker: "1"},
		{Start: 1, End: 2, Text: "Grüße  😀", Speaker: "1"},
	}

	turns := Coalesce(merged)
	require.Len(t, turns, 1)
	assert.Equal(t, "こんにちは Grüße  😀", turns[0].Text)
}

func TestSingleSegmentScenario(t *testing.T) {
	merged := Merge(
		[]TimeSegment{asrSeg(0, 5, "hello there")},
		[]TimeSegment{turnSeg(0, 5, "Speaker1")},
	)
	require.Equal(t, []MergedSegment{{Start: 0, End: 5, Text: "hello there", Speaker: "Speaker1"}}, merged)

	turns := Coalesce(merged)
	require.Len(t, turns, 1)
	assert.Equal(t, "Speaker1", turns[0].Speaker)
	assert.Equal(t, "hello there", turns[0].Text)
}

func TestFullText(t *testing.T) {
	merged := []MergedSegment{
		{Text: " Hello"},
		{Text: ""},
		{Text: "world. "},
	}
	assert.Equal(t, "Hello world.", FullText(merged))
}

func TestOverlap(t *testing.T) {
	assert.Equal(t, 2.0, Overlap(asrSeg(10, 20, ""), turnSeg(0, 12, "A")))
	assert.Equal(t, 8.0, Overlap(asrSeg(10, 20, ""), turnSeg(12, 25, "B")))
	assert.Equal(t, 0.0, Overlap(asrSeg(10, 20, ""), turnSeg(30, 40, "C")))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, asrSeg(1, 1, "").Validate())
	assert.Error(t, asrSeg(2, 1, "").Validate())
	assert.Error(t, asrSeg(-1, 1, "").Validate())

	assert.NoError(t, ValidateAll(nil))
	assert.NoError(t, ValidateAll([]TimeSegment{asrSeg(0, 1, "a"), asrSeg(1, 1, "b")}))

	err := ValidateAll([]TimeSegment{asrSeg(0, 1, "a"), asrSeg(3, 2, "b")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segment 1")
	assert.Contains(t, err.Error(), "ends before it starts")
}

func TestMergeZeroLengthSegment(t *testing.T) {
	diar := []TimeSegment{turnSeg(0, 10, "A"), turnSeg(8, 20, "B"), turnSeg(9.5, 11, "C")}

	merged := Merge([]TimeSegment{
		asrSeg(9, 9, "inside A, nearest start is C"),
		asrSeg(10, 10, "A has ended, B contains it"),
		asrSeg(25, 25, "past every turn"),
	}, diar)

	require.Len(t, merged, 3)
	assert.Equal(t, "A", merged[0].Speaker)
	assert.Equal(t, "B", merged[1].Speaker)
	assert.Equal(t, "C", merged[2].Speaker)
}
