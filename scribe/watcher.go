package scribe

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/bosley/parley/config"
	"github.com/fsnotify/fsnotify"
)

func (s *Scribe) watchConfig(ctx context.Context) {
	// Watch the directory: editors often replace the file instead of writing it
	dir := filepath.Dir(s.configPath)
	if err := s.watcher.Add(dir); err != nil {
		slog.Error("Failed to start watching config directory",
			"error", err,
			"path", dir)
		return
	}

	slog.Info("Watching config file for changes", "path", s.configPath)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if err := s.handleFSEvent(event); err != nil {
				slog.Error("Failed to reload configuration",
					"error", err,
					"event", event)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func (s *Scribe) handleFSEvent(event fsnotify.Event) error {
	if filepath.Clean(event.Name) != s.configPath {
		return nil
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return nil
	}
	return s.reload()
}

// reload applies the config file to subsequent jobs. A running job keeps the
// backends it started with. On error the previous configuration stays.
func (s *Scribe) reload() error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}

	tr, di, err := Backends(cfg)
	if err != nil {
		return err
	}
	s.controller.SetBackends(tr, di)

	s.mu.Lock()
	previous := s.config
	s.config = cfg
	s.mu.Unlock()

	if s.level != nil {
		s.level.Set(cfg.Level())
	}

	if cfg.HTTPAddr != previous.HTTPAddr || cfg.CertFile != previous.CertFile ||
		cfg.HistoryPath != previous.HistoryPath || cfg.ProgressInterval != previous.ProgressInterval ||
		cfg.KeepJobs != previous.KeepJobs {
		slog.Warn("Server, history and progress settings take effect after a restart")
	}

	diarizer := "none"
	if di != nil {
		diarizer = di.Name()
	}
	slog.Info("Configuration reloaded",
		"path", s.configPath,
		"backend", tr.Name(),
		"diarizer", diarizer,
		"level", cfg.Level().String())

	return nil
}
