package calib

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

const (
	pointTypePair = "pair"
	pointTypeLane = "lane"
)

// Store persists a calibration session (parameters, point pairs, lane lines and
// exported results) in a SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the session database at path.
// Use ":memory:" for a throwaway store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS calibration_params (
			key               TEXT PRIMARY KEY,
			value             TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS calibration_points (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			type              TEXT NOT NULL,
			data              TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS calibration_exports (
			id                TEXT PRIMARY KEY,
			data              TEXT NOT NULL,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveParams stores the camera and radar parameters
func (s *Store) SaveParams(p Params) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for key, section := range map[string]any{"camera": p.Camera, "radar": p.Radar} {
		data, err := json.Marshal(section)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", key, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO calibration_params (key, value) VALUES (?, ?)`, key, string(data)); err != nil {
			return fmt.Errorf("saving %s params: %w", key, err)
		}
	}
	return tx.Commit()
}

// LoadParams overlays stored parameters onto base. found is false when the
// store holds no parameters yet.
func (s *Store) LoadParams(base Params) (p Params, found bool, err error) {
	rows, err := s.db.Query(`SELECT key, value FROM calibration_params`)
	if err != nil {
		return base, false, fmt.Errorf("loading params: %w", err)
	}
	defer rows.Close()

	p = base
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return base, false, fmt.Errorf("scanning params: %w", err)
		}
		var target any
		switch key {
		case "camera":
			target = &p.Camera
		case "radar":
			target = &p.Radar
		default:
			log.Printf("[STORE] ignoring unknown params key %q", key)
			continue
		}
		if err := json.Unmarshal([]byte(value), target); err != nil {
			return base, false, fmt.Errorf("parsing %s params: %w", key, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return base, false, fmt.Errorf("iterating params: %w", err)
	}
	return p, found, nil
}

// SavePoints replaces the stored point pairs and lane lines
func (s *Store) SavePoints(pairs []Correspondence, lanes []Line2D) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM calibration_points`); err != nil {
		return fmt.Errorf("clearing points: %w", err)
	}

	insert := func(kind string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", kind, err)
		}
		_, err = tx.Exec(`INSERT INTO calibration_points (type, data) VALUES (?, ?)`, kind, string(data))
		return err
	}
	for _, p := range pairs {
		if err := insert(pointTypePair, p); err != nil {
			return fmt.Errorf("saving pair: %w", err)
		}
	}
	for _, l := range lanes {
		if err := insert(pointTypeLane, l); err != nil {
			return fmt.Errorf("saving lane: %w", err)
		}
	}
	return tx.Commit()
}

// LoadPairs returns the stored point pairs in insertion order
func (s *Store) LoadPairs() ([]Correspondence, error) {
	var pairs []Correspondence
	err := s.loadPoints(pointTypePair, func(data []byte) error {
		var c Correspondence
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		pairs = append(pairs, c)
		return nil
	})
	return pairs, err
}

// LoadLanes returns the stored lane lines in insertion order
func (s *Store) LoadLanes() ([]Line2D, error) {
	var lanes []Line2D
	err := s.loadPoints(pointTypeLane, func(data []byte) error {
		var l Line2D
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}
		lanes = append(lanes, l)
		return nil
	})
	return lanes, err
}

func (s *Store) loadPoints(kind string, fn func([]byte) error) error {
	rows, err := s.db.Query(`SELECT data FROM calibration_points WHERE type = ? ORDER BY id`, kind)
	if err != nil {
		return fmt.Errorf("loading %s points: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("scanning %s point: %w", kind, err)
		}
		if err := fn([]byte(data)); err != nil {
			return fmt.Errorf("parsing %s point: %w", kind, err)
		}
	}
	return rows.Err()
}

// RecordExport appends an exported calibration to the session history
func (s *Store) RecordExport(e *CalibrationExport) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling export: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO calibration_exports (id, data, created_at) VALUES (?, ?, ?)`,
		e.ID, string(data), e.Timestamp); err != nil {
		return fmt.Errorf("recording export %s: %w", e.ID, err)
	}
	return nil
}

// LatestExport returns the most recently recorded export, or nil if none exist
func (s *Store) LatestExport() (*CalibrationExport, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM calibration_exports ORDER BY rowid DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest export: %w", err)
	}
	var e CalibrationExport
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("parsing latest export: %w", err)
	}
	return &e, nil
}

// Clear removes all stored parameters, points and exports
func (s *Store) Clear() error {
	_, err := s.db.Exec(`
		DELETE FROM calibration_params;
		DELETE FROM calibration_points;
		DELETE FROM calibration_exports;
	`)
	if err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
