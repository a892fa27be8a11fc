package transcribe

import (
	"fmt"
	"strings"
)

// Model is a Whisper model size
type Model string

const (
	Tiny   Model = "tiny"
	Base   Model = "base"
	Small  Model = "small"
	Medium Model = "medium"
	Large  Model = "large"
)

// DefaultModel is used when a request does not name one
const DefaultModel = Base

// ModelInfo describes a model size
type ModelInfo struct {
	Name        Model   `json:"name"`
	Description string  `json:"description"`
	File        string  `json:"file"`  // whisper.cpp ggml file name
	Speed       float64 `json:"speed"` // rough audio seconds processed per wall second
}

// Models is the catalog of supported model sizes, fastest first
var Models = []ModelInfo{
	{Name: Tiny, Description: "Fastest, least accurate (~1GB RAM)", File: "ggml-tiny.bin", Speed: 32},
	{Name: Base, Description: "Fast, good accuracy (~1.5GB RAM)", File: "ggml-base.bin", Speed: 16},
	{Name: Small, Description: "Balanced speed/accuracy (~2.5GB RAM)", File: "ggml-small.bin", Speed: 6},
	{Name: Medium, Description: "High accuracy, slower (~5GB RAM)", File: "ggml-medium.bin", Speed: 2},
	{Name: Large, Description: "Best accuracy, slowest (~10GB RAM)", File: "ggml-large-v3.bin", Speed: 1},
}

// ParseModel validates a model name
func ParseModel(name string) (Model, error) {
	if name == "" {
		return DefaultModel, nil
	}
	m := Model(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := Lookup(m); !ok {
		return "", fmt.Errorf("unknown model %q (expected tiny, base, small, medium or large)", name)
	}
	return m, nil
}

// Lookup returns the catalog entry for m
func Lookup(m Model) (ModelInfo, bool) {
	for _, info := range Models {
		if info.Name == m {
			return info, true
		}
	}
	return ModelInfo{}, false
}
