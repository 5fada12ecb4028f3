// Package catalog holds the lookup tables the control panel browses when
// composing a loadlist: models, their stages and bands, per-stage
// temperatures, and the rule table that selects applicable test cases.
package catalog

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"benchd/pkg/types"
)

// Store is a SQLite-backed catalog. It uses modernc.org/sqlite which is
// pure Go (no CGO).
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path and runs schema
// migrations. Use ":memory:" for an ephemeral catalog.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog db: %w", err)
	}
	// Single connection avoids SQLITE_BUSY and keeps :memory: stores alive.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS stages (
			id INTEGER PRIMARY KEY,
			model_id INTEGER NOT NULL,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bands (
			id INTEGER PRIMARY KEY,
			model_id INTEGER NOT NULL,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS temperatures (
			id INTEGER PRIMARY KEY,
			stage_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			execution_order INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS testcase_defs (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS testcase_rules (
			id INTEGER PRIMARY KEY,
			model_id INTEGER NOT NULL DEFAULT 0,
			band_id INTEGER NOT NULL DEFAULT 0,
			temperature_id INTEGER NOT NULL DEFAULT 0,
			testcase_id INTEGER NOT NULL,
			priority INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_match
			ON testcase_rules(model_id, band_id, temperature_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) queryRefs(query string, args ...any) ([]types.NamedRef, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.NamedRef
	for rows.Next() {
		var r types.NamedRef
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Models lists every known model.
func (s *Store) Models() ([]types.NamedRef, error) {
	return s.queryRefs(`SELECT id, name FROM models ORDER BY id`)
}

// Stages lists the stages defined for a model.
func (s *Store) Stages(modelID int64) ([]types.NamedRef, error) {
	return s.queryRefs(`SELECT id, name FROM stages WHERE model_id = ? ORDER BY id`, modelID)
}

// Bands lists the bands defined for a model.
func (s *Store) Bands(modelID int64) ([]types.NamedRef, error) {
	return s.queryRefs(`SELECT id, name FROM bands WHERE model_id = ? ORDER BY id`, modelID)
}

// Temperatures lists the temperatures defined for a stage, in execution
// order.
func (s *Store) Temperatures(stageID int64) ([]types.NamedRef, error) {
	return s.queryRefs(
		`SELECT id, name FROM temperatures WHERE stage_id = ? ORDER BY execution_order, id`, stageID)
}

// ResolveTestCases selects the test cases applicable to a (model, band,
// temperature) combination. A rule column equal to 0 is a wildcard matching
// any value; among all matching rules the set with the numerically lowest
// priority wins, and the referenced test cases are returned deduplicated.
func (s *Store) ResolveTestCases(modelID, bandID, temperatureID int64) ([]types.NamedRef, error) {
	const match = `(model_id = ?1 OR model_id = 0)
		AND (band_id = ?2 OR band_id = 0)
		AND (temperature_id = ?3 OR temperature_id = 0)`
	return s.queryRefs(`
		SELECT DISTINCT d.id, d.name
		FROM testcase_rules r
		JOIN testcase_defs d ON d.id = r.testcase_id
		WHERE `+match+`
		AND r.priority = (
			SELECT MIN(r2.priority) FROM testcase_rules r2 WHERE `+match+`
		)
		ORDER BY d.id`,
		modelID, bandID, temperatureID)
}
