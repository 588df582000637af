// Package store persists playback preferences (volume, speed, ambient
// volume) in a local SQLite database so they survive restarts.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	appName      = "audiopro"
	dbFileName   = "audiopro.db"
	saveDebounce = 500 * time.Millisecond
)

// Preferences are the user settings restored on start.
type Preferences struct {
	Volume        float64
	Speed         float64
	AmbientVolume float64
}

// DefaultPreferences returns the preferences used when none are saved.
func DefaultPreferences() Preferences {
	return Preferences{Volume: 1.0, Speed: 1.0, AmbientVolume: 1.0}
}

// Store is a SQLite-backed preference store.
type Store struct {
	db *sql.DB

	saveMu    sync.Mutex
	saveTimer *time.Timer
	pending   *Preferences
}

// DefaultPath returns the database path under the XDG data directory.
func DefaultPath() (string, error) {
	path, err := xdg.DataFile(filepath.Join(appName, dbFileName))
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve data directory")
	}
	return path, nil
}

// Open opens (creating if needed) the store at path. An empty path uses
// DefaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create store directory: %s", filepath.Dir(path))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open store: %s", path)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	zlog.Debug().Msgf("store: opened: path=%s", path)
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS preferences (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			volume REAL NOT NULL DEFAULT 1.0,
			speed REAL NOT NULL DEFAULT 1.0,
			ambient_volume REAL NOT NULL DEFAULT 1.0,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return errors.Wrap(err, "failed to initialize schema")
	}
	return nil
}

// Load returns the saved preferences. ok is false when nothing has been
// saved yet, in which case the defaults are returned.
func (s *Store) Load() (prefs Preferences, ok bool, err error) {
	row := s.db.QueryRow(`SELECT volume, speed, ambient_volume FROM preferences WHERE id = 1`)
	err = row.Scan(&prefs.Volume, &prefs.Speed, &prefs.AmbientVolume)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreferences(), false, nil
	}
	if err != nil {
		return Preferences{}, false, errors.Wrap(err, "failed to load preferences")
	}
	return prefs, true, nil
}

// Save persists prefs immediately.
func (s *Store) Save(prefs Preferences) error {
	return withTx(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO preferences (id, volume, speed, ambient_volume, updated_at)
			VALUES (1, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				volume = excluded.volume,
				speed = excluded.speed,
				ambient_volume = excluded.ambient_volume,
				updated_at = excluded.updated_at
		`, prefs.Volume, prefs.Speed, prefs.AmbientVolume, time.Now().Unix())
		if err != nil {
			return errors.Wrap(err, "failed to save preferences")
		}
		return nil
	})
}

// SaveDebounced schedules prefs to be saved. Bursts of calls (a volume
// slider) collapse into one write of the last value.
func (s *Store) SaveDebounced(prefs Preferences) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.pending = &prefs
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(saveDebounce, s.flush)
}

func (s *Store) flush() {
	s.saveMu.Lock()
	pending := s.pending
	s.pending = nil
	s.saveMu.Unlock()

	if pending == nil {
		return
	}
	if err := s.Save(*pending); err != nil {
		zlog.Warn().Msgf("store: failed to save preferences: %v", err)
	}
}

// Close flushes any pending save and closes the database.
func (s *Store) Close() error {
	s.saveMu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveMu.Unlock()

	s.flush()
	return s.db.Close()
}

// withTx runs fn in a transaction, committing on success.
func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}
