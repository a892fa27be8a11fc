package scribe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bosley/parley/job"
	"github.com/bosley/parley/transcribe"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Largest accepted POST /api/jobs body
	maxRequestBody = 64 << 10
)

type wsConnection struct {
	conn        *websocket.Conn
	jobID       string
	send        chan []byte
	scribe      *Scribe
	unsubscribe func()
	gone        chan struct{}
}

// Handler returns the API router
func (s *Scribe) Handler() http.Handler {
	router := mux.NewRouter()

	// API routes
	router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/api/models", s.handleListModels).Methods("GET")
	router.HandleFunc("/api/jobs", s.handleStartJob).Methods("POST")
	router.HandleFunc("/api/jobs/{jobID}", s.handleGetJob).Methods("GET")
	router.HandleFunc("/api/jobs/{jobID}", s.handleCancelJob).Methods("DELETE")
	router.HandleFunc("/api/jobs/{jobID}/report", s.handleGetReport).Methods("GET")
	router.HandleFunc("/ws/{jobID}", s.handleWebSocket)

	return router
}

func (s *Scribe) startHTTP(ctx context.Context) error {
	tlsEnabled := s.server.TLSConfig != nil

	go func() {
		slog.Info("HTTP server listening", "addr", s.server.Addr, "tls", tlsEnabled)

		var err error
		if tlsEnabled {
			err = s.server.ListenAndServeTLS("", "")
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	return s.server.Shutdown(context.Background())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// lookupJob resolves the {jobID} route variable, writing the error response
// itself when the job cannot be found
func (s *Scribe) lookupJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	id, err := uuid.Parse(mux.Vars(r)["jobID"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid job ID")
		return nil, false
	}

	j, ok := s.controller.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	return j, true
}

func (s *Scribe) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		Backend:               s.controller.Backend(),
		SpeakerIdentification: s.controller.SpeakerIdentification(),
	}
	if j := s.controller.Active(); j != nil {
		id := j.ID.String()
		status.ActiveJob = &id
		status.Subscribers = s.subscriberCount(id)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Scribe) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := make([]ModelResponse, 0, len(transcribe.Models))
	for _, m := range transcribe.Models {
		models = append(models, ModelResponse{
			Name:        string(m.Name),
			Description: m.Description,
			Speed:       m.Speed,
			Default:     m.Name == transcribe.DefaultModel,
		})
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Scribe) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg := s.Config()
	req := job.Request{
		Source:     body.Source,
		Model:      body.Model,
		Diarize:    body.Diarize,
		Timestamps: cfg.Timestamps,
	}
	if body.Timestamps != nil {
		req.Timestamps = *body.Timestamps
	}
	if body.Diarize {
		if body.Token != "" {
			req.Token = []byte(body.Token)
		} else {
			req.Token = cfg.Token()
		}
	}

	j, err := s.controller.Start(req)
	if err != nil {
		var jobErr *job.Error
		switch {
		case errors.Is(err, job.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &jobErr) && j != nil:
			p := j.Snapshot()
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:    jobErr.Reason,
				Kind:     jobErr.Kind.String(),
				Progress: &p,
			})
		default:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}

	w.Header().Set("Location", "/api/jobs/"+j.ID.String())
	writeJSON(w, http.StatusAccepted, j.Snapshot())
}

func (s *Scribe) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

func (s *Scribe) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	if !j.Cancel() {
		writeError(w, http.StatusConflict, "Job already finished")
		return
	}

	slog.Info("Cancellation requested", "jobID", j.ID)
	writeJSON(w, http.StatusAccepted, j.Snapshot())
}

func (s *Scribe) handleGetReport(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	result := j.Result()
	if result == nil {
		writeError(w, http.StatusNotFound, "No report available")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(result.Report))
}

func (s *Scribe) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	// Upgrade connection to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	updates, unsubscribe := j.Subscribe()
	wsConn := &wsConnection{
		conn:        conn,
		jobID:       j.ID.String(),
		send:        make(chan []byte, 256),
		scribe:      s,
		unsubscribe: unsubscribe,
		gone:        make(chan struct{}),
	}

	// Register this connection for the job
	s.registerSubscriber(wsConn.jobID, wsConn)

	// Start the connection handlers
	s.pumps.Add(1)
	go s.pumpProgress(wsConn, updates)
	go wsConn.writePump()
	go wsConn.readPump()
}

func (s *Scribe) registerSubscriber(jobID string, wsConn *wsConnection) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	value, _ := s.subscribers.LoadOrStore(jobID, make([]*wsConnection, 0))
	connections := value.([]*wsConnection)
	connections = append(connections, wsConn)
	s.subscribers.Store(jobID, connections)
}

func (s *Scribe) subscriberCount(jobID string) int {
	value, ok := s.subscribers.Load(jobID)
	if !ok {
		return 0
	}
	return len(value.([]*wsConnection))
}

func (s *Scribe) unregisterSubscriber(jobID string, wsConn *wsConnection) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	value, ok := s.subscribers.Load(jobID)
	if !ok {
		return
	}

	connections := value.([]*wsConnection)
	for i, conn := range connections {
		if conn == wsConn {
			connections = append(connections[:i], connections[i+1:]...)
			break
		}
	}

	if len(connections) == 0 {
		s.subscribers.Delete(jobID)
	} else {
		s.subscribers.Store(jobID, connections)
	}
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConnection) readPump() {
	defer func() {
		close(c.gone)
		c.unsubscribe()
		c.scribe.unregisterSubscriber(c.jobID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
