package scribe

import (
	"time"

	"github.com/bosley/parley/job"
)

// StartRequest is the body of POST /api/jobs
type StartRequest struct {
	Source     string `json:"source"`
	Model      string `json:"model"`
	Diarize    bool   `json:"diarize"`
	Timestamps *bool  `json:"timestamps,omitempty"`

	// Optional; the configured token environment variable is used when empty
	Token string `json:"token,omitempty"`
}

// ErrorResponse is returned for rejected requests
type ErrorResponse struct {
	Error    string        `json:"error"`
	Kind     string        `json:"kind,omitempty"`
	Progress *job.Progress `json:"progress,omitempty"`
}

// ModelResponse describes one entry of the model catalog
type ModelResponse struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Speed       float64 `json:"speed"`
	Default     bool    `json:"default"`
}

// StatusResponse reports what the service can currently do
type StatusResponse struct {
	Backend               string  `json:"backend"`
	SpeakerIdentification bool    `json:"speakerIdentification"`
	ActiveJob             *string `json:"activeJob"`

	// WebSocket clients following the active job
	Subscribers int `json:"subscribers"`
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      string       `json:"type"`
	JobID     string       `json:"jobId"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   job.Progress `json:"payload"`
}
