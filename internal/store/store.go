// Package store persists the tracked-instance registry in SQLite so a
// restarted daemon can resume polling the windows it was watching.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Store wraps a SQLite database holding tracked instances and recent
// lifecycle transitions. Thread-safe within one process; WAL mode plus a
// busy timeout keeps concurrent daemon/CLI access safe.
type Store struct {
	db *sql.DB
}

// InstanceRow is one tracked agent instance.
type InstanceRow struct {
	InstanceID string
	Project    string
	Agent      string
	Session    string
	Window     string
	Channel    string
	State      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TransitionRow is one recorded lifecycle transition.
type TransitionRow struct {
	InstanceID string
	State      string
	At         time.Time
}

// Open creates or opens the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			instance_id TEXT PRIMARY KEY,
			project     TEXT NOT NULL,
			agent       TEXT NOT NULL,
			session     TEXT NOT NULL,
			window      TEXT NOT NULL,
			channel     TEXT NOT NULL DEFAULT '',
			state       TEXT NOT NULL DEFAULT 'offline',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create instances: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS transitions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			state       TEXT NOT NULL,
			at          INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create transitions: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}

	return tx.Commit()
}

// UpsertInstance inserts or replaces an instance row. CreatedAt is
// preserved for existing rows; UpdatedAt is always refreshed.
func (s *Store) UpsertInstance(inst *InstanceRow) error {
	now := time.Now()
	created := inst.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.Exec(`
		INSERT INTO instances (
			instance_id, project, agent, session, window, channel, state,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			project    = excluded.project,
			agent      = excluded.agent,
			session    = excluded.session,
			window     = excluded.window,
			channel    = excluded.channel,
			state      = excluded.state,
			updated_at = excluded.updated_at
	`,
		inst.InstanceID, inst.Project, inst.Agent, inst.Session, inst.Window,
		inst.Channel, inst.State, created.Unix(), now.Unix(),
	)
	return err
}

// UpdateState records an instance's new lifecycle state and appends a
// transition row.
func (s *Store) UpdateState(instanceID, state string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE instances SET state = ?, updated_at = ? WHERE instance_id = ?
	`, state, at.Unix(), instanceID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO transitions (instance_id, state, at) VALUES (?, ?, ?)
	`, instanceID, state, at.Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// ListInstances returns all instances ordered by project then agent.
func (s *Store) ListInstances() ([]*InstanceRow, error) {
	rows, err := s.db.Query(`
		SELECT instance_id, project, agent, session, window, channel, state,
			created_at, updated_at
		FROM instances ORDER BY project, agent, instance_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*InstanceRow
	for rows.Next() {
		r := &InstanceRow{}
		var createdUnix, updatedUnix int64
		if err := rows.Scan(
			&r.InstanceID, &r.Project, &r.Agent, &r.Session, &r.Window,
			&r.Channel, &r.State, &createdUnix, &updatedUnix,
		); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdUnix, 0)
		r.UpdatedAt = time.Unix(updatedUnix, 0)
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetInstance returns one instance by ID, or sql.ErrNoRows.
func (s *Store) GetInstance(instanceID string) (*InstanceRow, error) {
	r := &InstanceRow{}
	var createdUnix, updatedUnix int64
	err := s.db.QueryRow(`
		SELECT instance_id, project, agent, session, window, channel, state,
			created_at, updated_at
		FROM instances WHERE instance_id = ?
	`, instanceID).Scan(
		&r.InstanceID, &r.Project, &r.Agent, &r.Session, &r.Window,
		&r.Channel, &r.State, &createdUnix, &updatedUnix,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(createdUnix, 0)
	r.UpdatedAt = time.Unix(updatedUnix, 0)
	return r, nil
}

// DeleteInstance removes an instance and its transition history.
func (s *Store) DeleteInstance(instanceID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM instances WHERE instance_id = ?", instanceID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM transitions WHERE instance_id = ?", instanceID); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentTransitions returns the newest transitions for an instance, most
// recent first, capped at limit.
func (s *Store) RecentTransitions(instanceID string, limit int) ([]*TransitionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT instance_id, state, at FROM transitions
		WHERE instance_id = ? ORDER BY id DESC LIMIT ?
	`, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*TransitionRow
	for rows.Next() {
		r := &TransitionRow{}
		var atUnix int64
		if err := rows.Scan(&r.InstanceID, &r.State, &atUnix); err != nil {
			return nil, err
		}
		r.At = time.Unix(atUnix, 0)
		result = append(result, r)
	}
	return result, rows.Err()
}
