// Package scribe hosts the transcription controller behind an HTTP API with
// WebSocket progress push, and reloads backends when the config file changes.
package scribe

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/bosley/parley/config"
	"github.com/bosley/parley/diarize"
	"github.com/bosley/parley/history"
	"github.com/bosley/parley/job"
	"github.com/bosley/parley/transcribe"
	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
)

// Options configures the Scribe service beyond the config file contents
type Options struct {
	// Config file to watch for changes, empty to disable reloading
	ConfigPath string

	// Adjusted on reload when set
	Level *slog.LevelVar
}

// Scribe manages the transcription service
type Scribe struct {
	configPath string
	level      *slog.LevelVar

	mu     sync.RWMutex
	config *config.Config

	controller *job.Controller
	history    *history.Store

	// Config file watcher
	watcher *fsnotify.Watcher

	// WebSocket connections per job
	subscribers sync.Map // map[string][]*wsConnection
	subMu       sync.Mutex
	pumps       sync.WaitGroup

	// HTTP/Websocket
	server   *http.Server
	upgrader websocket.Upgrader
}

// Backends builds the adapters selected by cfg. The diarizer is nil when
// speaker identification is disabled.
func Backends(cfg *config.Config) (transcribe.Transcriber, diarize.Diarizer, error) {
	tr, err := transcribe.New(cfg.Transcribe)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure transcription backend: %w", err)
	}
	di, err := diarize.New(cfg.Diarize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure diarization backend: %w", err)
	}
	return tr, di, nil
}

// NewController builds a job controller from cfg. The returned history store
// is nil when run history is disabled or could not be opened.
func NewController(cfg *config.Config) (*job.Controller, *history.Store, error) {
	tr, di, err := Backends(cfg)
	if err != nil {
		return nil, nil, err
	}

	var store *history.Store
	opts := job.Options{
		Transcriber: tr,
		Diarizer:    di,
		Interval:    cfg.ProgressInterval,
		Keep:        cfg.KeepJobs,
	}
	if cfg.HistoryPath != "" {
		store, err = history.Open(cfg.HistoryPath)
		if err != nil {
			slog.Warn("Run history unavailable, estimates will use defaults",
				"error", err,
				"path", cfg.HistoryPath)
		} else {
			opts.History = store
		}
	}

	controller, err := job.New(opts)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}
	return controller, store, nil
}

// New creates a new Scribe instance
func New(cfg *config.Config, opts Options) (*Scribe, error) {
	controller, store, err := NewController(cfg)
	if err != nil {
		return nil, err
	}

	s := &Scribe{
		configPath: opts.ConfigPath,
		level:      opts.Level,
		config:     cfg,
		controller: controller,
		history:    store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.server = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Handler(),
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		s.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	if s.configPath != "" {
		s.configPath = filepath.Clean(s.configPath)
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		s.watcher = watcher
	}

	return s, nil
}

// Controller returns the job controller driven by the service
func (s *Scribe) Controller() *job.Controller {
	return s.controller
}

// Config returns the configuration currently in effect
func (s *Scribe) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Start begins the Scribe service and blocks until ctx is done
func (s *Scribe) Start(ctx context.Context) error {
	if s.watcher != nil {
		go s.watchConfig(ctx)
	}

	return s.startHTTP(ctx)
}

// Stop gracefully shuts down the Scribe service
func (s *Scribe) Stop(ctx context.Context) error {
	// Cancel the running job and wait for it
	if err := s.controller.Close(ctx); err != nil {
		return err
	}

	// Stop the HTTP server
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop HTTP server: %w", err)
		}
	}

	// Wait for progress pumps to drain
	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out")
	}

	// Close the file watcher
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
	}

	return s.closeStores()
}

func (s *Scribe) closeStores() error {
	if s.history == nil {
		return nil
	}
	if err := s.history.Close(); err != nil {
		return fmt.Errorf("failed to close run history: %w", err)
	}
	return nil
}
