package record

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes (SQLite is single-writer)
}

// OpenSQLite opens or creates the run-record database at path and runs
// schema migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening record db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating record db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sequence_runs (
			id TEXT PRIMARY KEY,
			serial_number TEXT NOT NULL,
			model TEXT NOT NULL,
			stage TEXT NOT NULL,
			station TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			passed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS case_runs (
			id TEXT PRIMARY KEY,
			sequence_id TEXT NOT NULL REFERENCES sequence_runs(id),
			test_case TEXT NOT NULL,
			temperature TEXT NOT NULL,
			band TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			passed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS measurements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			case_run_id TEXT NOT NULL REFERENCES case_runs(id),
			name TEXT NOT NULL,
			value REAL NOT NULL,
			hi_limit REAL NOT NULL,
			lo_limit REAL NOT NULL,
			passed INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_case_runs_sequence ON case_runs(sequence_id)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_case ON measurements(case_run_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) StartSequenceRun(serial, model, stage, station string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO sequence_runs(id, serial_number, model, stage, station, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, serial, model, stage, station, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("starting sequence run: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteSequenceRun(id string, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE sequence_runs SET completed_at = ?, passed = ? WHERE id = ?`,
		time.Now().UTC(), boolToInt(passed), id)
	if err != nil {
		return fmt.Errorf("completing sequence run: %w", err)
	}
	return requireRow(res, "sequence run "+id)
}

func (s *SQLiteStore) StartCaseRun(sequenceID, testCase, temperature, band string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO case_runs(id, sequence_id, test_case, temperature, band, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sequenceID, testCase, temperature, band, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("starting case run: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteCaseRun(id string, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE case_runs SET completed_at = ?, passed = ? WHERE id = ?`,
		time.Now().UTC(), boolToInt(passed), id)
	if err != nil {
		return fmt.Errorf("completing case run: %w", err)
	}
	return requireRow(res, "case run "+id)
}

func (s *SQLiteStore) AddMeasurement(caseRunID string, m Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO measurements(case_run_id, name, value, hi_limit, lo_limit, passed) VALUES (?, ?, ?, ?, ?, ?)`,
		caseRunID, m.Name, m.Value, m.HiLimit, m.LoLimit, boolToInt(m.Passed))
	if err != nil {
		return fmt.Errorf("adding measurement: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s not found", what)
	}
	return nil
}
