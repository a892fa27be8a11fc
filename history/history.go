// Package history keeps timings of past runs so progress can be extrapolated
// from how fast a backend/model pair has processed audio before.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schema.sql
var schema string

// window is how many recent runs feed the average
const window = 20

// Run is the timing of one adapter phase
type Run struct {
	Backend      string
	Model        string
	Phase        string
	AudioSeconds float64
	WallSeconds  float64
	At           time.Time
}

// Store persists run timings in SQLite
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores one run. Runs without positive timings are ignored.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.AudioSeconds <= 0 || r.WallSeconds <= 0 {
		return nil
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (backend, model, phase, audio_seconds, wall_seconds, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Backend, r.Model, r.Phase, r.AudioSeconds, r.WallSeconds, r.At.Unix())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Speed returns audio seconds processed per wall second over the most recent
// runs for the backend/model/phase. ok is false when there is no history.
func (s *Store) Speed(ctx context.Context, backend, model, phase string) (speed float64, ok bool, err error) {
	var audio, wall sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT SUM(audio_seconds), SUM(wall_seconds) FROM (
		     SELECT audio_seconds, wall_seconds FROM runs
		     WHERE backend = ? AND model = ? AND phase = ?
		     ORDER BY id DESC LIMIT ?
		 )`,
		backend, model, phase, window).Scan(&audio, &wall)
	if err != nil {
		return 0, false, fmt.Errorf("query run speed: %w", err)
	}
	if !audio.Valid || !wall.Valid || wall.Float64 <= 0 {
		return 0, false, nil
	}
	return audio.Float64 / wall.Float64, true, nil
}
