package scribe

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/bosley/parley/job"
)

// pumpProgress forwards job snapshots to one WebSocket connection until the
// job finishes or the client goes away, then closes the connection's queue
func (s *Scribe) pumpProgress(c *wsConnection, updates <-chan job.Progress) {
	slog.Debug("Progress pump starting", "jobID", c.jobID)
	defer func() {
		close(c.send)
		slog.Debug("Progress pump shutting down", "jobID", c.jobID)
		s.pumps.Done()
	}()

	for p := range updates {
		msg := WebSocketMessage{
			Type:      "progress",
			JobID:     c.jobID,
			Timestamp: time.Now(),
			Payload:   p,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("Failed to marshal progress message",
				"error", err,
				"jobID", c.jobID)
			continue
		}

		if p.State.Terminal() {
			// The final snapshot is only dropped if the client is gone
			select {
			case c.send <- data:
			case <-c.gone:
			}
			continue
		}

		select {
		case c.send <- data:
		default:
			slog.Warn("Failed to send to subscriber - channel full",
				"jobID", c.jobID,
				"state", p.State)
		}
	}
}
