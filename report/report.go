// Package report renders merged transcripts into the plain-text report format.
package report

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bosley/parley/segment"
)

const (
	ruleWidth  = 60
	title      = "AUDIO TRANSCRIPTION"
	timeLayout = "2006-01-02 15:04:05"
	indent     = "    "
)

var (
	heavyRule = strings.Repeat("=", ruleWidth)
	lightRule = strings.Repeat("-", ruleWidth)
)

// Header carries the metadata printed at the top of a report
type Header struct {
	Source      string
	Language    string
	Model       string
	Backend     string // optional
	Speakers    bool
	Transcribed time.Time
}

// Options toggles optional report sections
type Options struct {
	Timestamps bool
}

// Format renders the report. Output depends only on its arguments.
func Format(h Header, merged []segment.MergedSegment, opts Options) string {
	var b strings.Builder

	b.WriteString(heavyRule + "\n")
	b.WriteString(title + "\n")
	b.WriteString(heavyRule + "\n\n")

	language := h.Language
	if language == "" {
		language = "unknown"
	}
	fmt.Fprintf(&b, "Source File: %s\n", filepath.Base(h.Source))
	fmt.Fprintf(&b, "Detected Language: %s\n", language)
	fmt.Fprintf(&b, "Model Used: %s\n", h.Model)
	if h.Backend != "" {
		fmt.Fprintf(&b, "Backend: %s\n", h.Backend)
	}
	fmt.Fprintf(&b, "Speaker Identification: %s\n", yesNo(h.Speakers))
	fmt.Fprintf(&b, "Transcribed: %s\n", h.Transcribed.Format(timeLayout))
	b.WriteString("\n" + lightRule + "\n\n")

	if opts.Timestamps && len(merged) > 0 {
		b.WriteString("TIMESTAMPED TRANSCRIPTION:\n\n")
		for _, m := range merged {
			fmt.Fprintf(&b, "[%s --> %s]\n%s\n\n", Timestamp(m.Start), Timestamp(m.End), strings.TrimSpace(m.Text))
		}
		b.WriteString(lightRule + "\n\n")
	}

	if h.Speakers && len(merged) > 0 {
		b.WriteString("CONVERSATION:\n\n")
		for _, turn := range segment.Coalesce(merged) {
			fmt.Fprintf(&b, "Speaker %s:\n%s%s\n\n", turn.Speaker, indent, strings.TrimSpace(turn.Text))
		}
		b.WriteString(lightRule + "\n\n")
	}

	b.WriteString("FULL TRANSCRIPTION:\n\n")
	b.WriteString(segment.FullText(merged))
	b.WriteString("\n\n" + heavyRule + "\n")

	return b.String()
}

// Timestamp formats seconds as HH:MM:SS.mmm
func Timestamp(seconds float64) string {
	ms := int64(math.Round(max(seconds, 0) * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// OutputPath returns the report path next to the source: same base name, .txt extension
func OutputPath(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + ".txt"
}

// Write stores the report at path. An existing file is replaced.
func Write(path, text string) error {
	if _, err := os.Stat(path); err == nil {
		slog.Warn("Overwriting existing transcript", "path", path)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
