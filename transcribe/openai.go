package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bosley/parley/segment"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI transcription API backend
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OpenAI transcribes through the hosted audio transcription endpoint.
// The request model size does not apply; the configured API model is used.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI backend
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Name returns the backend name
func (o *OpenAI) Name() string {
	return "openai"
}

// Transcribe uploads the file and requests verbose JSON to get segment timings
func (o *OpenAI) Transcribe(ctx context.Context, req Request) (*Result, error) {
	slog.Debug("Sending audio to openai",
		"file", req.AudioPath,
		"model", o.model,
		"requestedSize", req.Model)

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: req.AudioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai API error (status %d): %w", apiErr.HTTPStatusCode, err)
		}
		return nil, fmt.Errorf("openai transcription failed: %w", err)
	}

	result := &Result{
		Language: languageCode(resp.Language),
		Duration: time.Duration(resp.Duration * float64(time.Second)),
	}
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, segment.TimeSegment{
			Start: s.Start,
			End:   max(s.End, s.Start),
			Text:  text,
		})
	}

	// No segment timings: keep the text as one segment over the whole file
	if len(result.Segments) == 0 {
		if text := strings.TrimSpace(resp.Text); text != "" {
			result.Segments = []segment.TimeSegment{{Start: 0, End: resp.Duration, Text: text}}
		}
	}
	report(req.OnProgress, 1)

	return result, nil
}
