// Package task implements the shared on-disk task queue. Tasks are plain JSON
// files under tasks/<team>/, mutated by whole-file read-modify-write and never
// deleted; crash recovery depends on the persisted status surviving restarts.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"teambridge/pkg/utils"
)

// Status values a task moves through.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	taskFileSuffix    = ".json"
	failureFileSuffix = ".failure.json"
)

// ErrTaskNotFound is returned when the target task file is missing or empty.
var ErrTaskNotFound = fmt.Errorf("task not found")

// Task is the typed view of a task record used for scheduling decisions.
// ReadTask deliberately bypasses this type: task files carry no schema and a
// non-object JSON value must round-trip unchanged.
type Task struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Owner       string   `json:"owner"`
	Blocks      []string `json:"blocks"`
	BlockedBy   []string `json:"blockedBy"`
}

// Update is a partial task mutation. Nil fields are omitted from the merge;
// omission never clears an existing value.
type Update struct {
	Subject     *string
	Description *string
	Status      *string
	Owner       *string
	Blocks      *[]string
	BlockedBy   *[]string
}

// Store reads and writes task files for teams under a single root directory.
type Store struct {
	rootDir string
}

// NewStore creates a task store rooted at rootDir (the tasks/ directory).
func NewStore(rootDir string) *Store {
	return &Store{rootDir: rootDir}
}

// TeamDir returns the directory holding a team's task files.
func (s *Store) TeamDir(team string) string {
	return filepath.Join(s.rootDir, team)
}

func (s *Store) taskPath(team, id string) string {
	return filepath.Join(s.TeamDir(team), id+taskFileSuffix)
}

func (s *Store) failurePath(team, id string) string {
	return filepath.Join(s.TeamDir(team), id+failureFileSuffix)
}

// ReadTask returns the raw decoded JSON value of a task file. No schema is
// enforced: an array or scalar stored under a task id round-trips unchanged.
// Missing or empty files return ErrTaskNotFound.
func (s *Store) ReadTask(team, id string) (any, error) {
	data, err := os.ReadFile(s.taskPath(team, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, ErrTaskNotFound
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to parse task %s: %w", id, err)
	}
	return value, nil
}

// readTyped decodes a task into its typed view for scheduling. Parse failures
// and missing files both report ErrTaskNotFound so schedulers fail closed.
func (s *Store) readTyped(team, id string) (*Task, error) {
	data, err := os.ReadFile(s.taskPath(team, id))
	if err != nil || len(data) == 0 {
		return nil, ErrTaskNotFound
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, ErrTaskNotFound
	}
	t.ID = id
	return &t, nil
}

// CreateTask writes a new task record with status pending.
func (s *Store) CreateTask(team string, t *Task) error {
	if t.ID == "" {
		return fmt.Errorf("task id cannot be empty")
	}
	if t.Status == "" {
		t.Status = StatusPending
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}
	if err := utils.WriteFileAtomic(s.taskPath(team, t.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write task %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTask merges the provided fields into an existing task record and
// rewrites the file whole. The target must already exist; there is no
// implicit creation.
func (s *Store) UpdateTask(team, id string, update Update) error {
	path := s.taskPath(team, id)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("cannot update task %s: %w", id, ErrTaskNotFound)
		}
		return fmt.Errorf("failed to read task %s: %w", id, err)
	}

	// Merge onto whatever object is there. A torn or non-object file yields
	// an empty base rather than blocking the update.
	record := make(map[string]any)
	_ = json.Unmarshal(data, &record)

	if update.Subject != nil {
		record["subject"] = *update.Subject
	}
	if update.Description != nil {
		record["description"] = *update.Description
	}
	if update.Status != nil {
		record["status"] = *update.Status
	}
	if update.Owner != nil {
		record["owner"] = *update.Owner
	}
	if update.Blocks != nil {
		record["blocks"] = *update.Blocks
	}
	if update.BlockedBy != nil {
		record["blockedBy"] = *update.BlockedBy
	}

	merged, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", id, err)
	}
	if err := utils.WriteFileAtomic(path, merged, 0644); err != nil {
		return fmt.Errorf("failed to write task %s: %w", id, err)
	}
	return nil
}

// ListTaskIDs returns the ids of all task files for a team, excluding failure
// sidecars and temp files. Ids that fully parse as numbers sort numerically;
// any other pair compares lexicographically, which places all-numeric ids
// before alphabetic ones.
func (s *Store) ListTaskIDs(team string) ([]string, error) {
	entries, err := os.ReadDir(s.TeamDir(team))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read task directory for team %s: %w", team, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, taskFileSuffix) {
			continue
		}
		if strings.HasSuffix(name, failureFileSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, taskFileSuffix))
	}

	sort.Slice(ids, func(i, j int) bool {
		ni, iErr := strconv.ParseFloat(ids[i], 64)
		nj, jErr := strconv.ParseFloat(ids[j], 64)
		if iErr == nil && jErr == nil {
			return ni < nj
		}
		return ids[i] < ids[j]
	})

	return ids, nil
}

// AreBlockersResolved reports whether every blocker id exists and has status
// completed. A missing blocker fails closed.
func (s *Store) AreBlockersResolved(team string, blockerIDs []string) bool {
	for _, id := range blockerIDs {
		blocker, err := s.readTyped(team, id)
		if err != nil || blocker.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// FindNextTask scans task ids in sorted order and returns the first pending
// task whose blockers are all resolved, or nil if none is eligible. The read
// records no ownership: claiming is the caller's subsequent UpdateTask, and
// two workers may race for the same task (see the package concurrency notes).
func (s *Store) FindNextTask(team string) (*Task, error) {
	ids, err := s.ListTaskIDs(team)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		t, err := s.readTyped(team, id)
		if err != nil {
			continue
		}
		if t.Status != StatusPending {
			continue
		}
		if !s.AreBlockersResolved(team, t.BlockedBy) {
			continue
		}
		return t, nil
	}

	return nil, nil
}
