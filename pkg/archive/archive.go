// Package archive keeps a SQLite history of task status transitions. It is
// purely observational: nothing on the claim path reads it, and a failed
// archive write never blocks coordination. The handle is an explicit struct
// passed by reference, not a process-wide singleton.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS task_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	team TEXT NOT NULL,
	task_id TEXT NOT NULL,
	worker TEXT NOT NULL DEFAULT '',
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_transitions_team_task
	ON task_transitions(team, task_id);
`

// Transition is one recorded task status change.
type Transition struct {
	RunID      string
	Team       string
	TaskID     string
	Worker     string
	FromStatus string
	ToStatus   string
	Detail     string
	CreatedAt  time.Time
}

// Archive is a handle to the transition history database.
type Archive struct {
	db    *sql.DB
	runID string
}

// Open opens (creating if needed) the archive database at dbPath. WAL mode
// with a busy timeout keeps concurrent worker processes from tripping over
// each other on the shared file.
func Open(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Archive{
		db:    db,
		runID: uuid.New().String(),
	}, nil
}

// RunID identifies this process's writes in the shared history.
func (a *Archive) RunID() string {
	return a.runID
}

// RecordTransition appends one status change to the history.
func (a *Archive) RecordTransition(team, taskID, worker, fromStatus, toStatus, detail string) error {
	_, err := a.db.Exec(`
		INSERT INTO task_transitions (run_id, team, task_id, worker, from_status, to_status, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.runID, team, taskID, worker, fromStatus, toStatus, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record transition for task %s: %w", taskID, err)
	}
	return nil
}

// ListTransitions returns the recorded history for one task, oldest first.
func (a *Archive) ListTransitions(team, taskID string) ([]Transition, error) {
	rows, err := a.db.Query(`
		SELECT run_id, team, task_id, worker, from_status, to_status, detail, created_at
		FROM task_transitions
		WHERE team = ? AND task_id = ?
		ORDER BY id ASC`,
		team, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.RunID, &tr.Team, &tr.TaskID, &tr.Worker,
			&tr.FromStatus, &tr.ToStatus, &tr.Detail, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition row: %w", err)
		}
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transition rows: %w", err)
	}
	return transitions, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close archive database: %w", err)
	}
	return nil
}
