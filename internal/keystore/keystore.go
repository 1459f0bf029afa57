// Package keystore persists the operator's descrambling configuration (last
// installed control words and PID selections, keyed by service name) so a
// gateway restart comes back with the same setup. The store only replays what
// the operator explicitly configured; it never rotates keys on its own.
package keystore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS keys (
	service    TEXT PRIMARY KEY,
	even_cw    TEXT NOT NULL,
	odd_cw     TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pids (
	service TEXT NOT NULL,
	pid     INTEGER NOT NULL,
	PRIMARY KEY (service, pid)
);
`

// ErrNotFound is returned when a service has no stored keys.
var ErrNotFound = errors.New("keystore: service not found")

// Store wraps the SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("keystore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveKey upserts the control words for a service.
func (s *Store) SaveKey(service, evenCW, oddCW string) error {
	_, err := s.db.Exec(`
		INSERT INTO keys (service, even_cw, odd_cw, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET even_cw = excluded.even_cw,
			odd_cw = excluded.odd_cw, updated_at = excluded.updated_at`,
		service, evenCW, oddCW, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("keystore: save key: %w", err)
	}
	return nil
}

// LoadKey returns the stored control words for a service.
func (s *Store) LoadKey(service string) (evenCW, oddCW string, err error) {
	row := s.db.QueryRow(`SELECT even_cw, odd_cw FROM keys WHERE service = ?`, service)
	if err := row.Scan(&evenCW, &oddCW); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", fmt.Errorf("%w: %q", ErrNotFound, service)
		}
		return "", "", fmt.Errorf("keystore: load key: %w", err)
	}
	return evenCW, oddCW, nil
}

// AddPID records a PID selection for a service.
func (s *Store) AddPID(service string, pid uint16) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO pids (service, pid) VALUES (?, ?)`, service, pid)
	if err != nil {
		return fmt.Errorf("keystore: add pid: %w", err)
	}
	return nil
}

// DelPID removes a PID selection.
func (s *Store) DelPID(service string, pid uint16) error {
	_, err := s.db.Exec(`DELETE FROM pids WHERE service = ? AND pid = ?`, service, pid)
	if err != nil {
		return fmt.Errorf("keystore: del pid: %w", err)
	}
	return nil
}

// PIDs returns the stored PID selections for a service in ascending order.
func (s *Store) PIDs(service string) ([]uint16, error) {
	rows, err := s.db.Query(`SELECT pid FROM pids WHERE service = ? ORDER BY pid`, service)
	if err != nil {
		return nil, fmt.Errorf("keystore: pids: %w", err)
	}
	defer rows.Close()
	var out []uint16
	for rows.Next() {
		var pid uint16
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("keystore: scan pid: %w", err)
		}
		out = append(out, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keystore: pids: %w", err)
	}
	return out, nil
}
