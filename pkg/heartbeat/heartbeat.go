// Package heartbeat tracks per-worker liveness records. Each worker
// overwrites its own heartbeat file every poll tick; readers decide liveness
// by comparing record age against a threshold. Missing or corrupt records
// uniformly read as "no heartbeat": an unknown worker is a dead worker.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"teambridge/pkg/utils"
)

const fileSuffix = ".heartbeat.json"

// Worker statuses recorded in heartbeats.
const (
	StatusPolling     = "polling"
	StatusExecuting   = "executing"
	StatusQuarantined = "quarantined"
	StatusStopping    = "stopping"
)

// Heartbeat is one worker's liveness record.
type Heartbeat struct {
	WorkerName        string `json:"workerName"`
	TeamName          string `json:"teamName"`
	Provider          string `json:"provider"`
	PID               int    `json:"pid"`
	LastPollAt        string `json:"lastPollAt"`
	ConsecutiveErrors int    `json:"consecutiveErrors"`
	Status            string `json:"status"`
}

// Registry stores heartbeat files under <root>/<team>/.
type Registry struct {
	rootDir string
}

// NewRegistry creates a heartbeat registry rooted at rootDir (typically
// <state>/team-bridge).
func NewRegistry(rootDir string) *Registry {
	return &Registry{rootDir: rootDir}
}

func (r *Registry) teamDir(team string) string {
	return filepath.Join(r.rootDir, team)
}

func (r *Registry) path(team, worker string) string {
	return filepath.Join(r.teamDir(team), worker+fileSuffix)
}

// Write overwrites the worker's heartbeat file with the full record.
func (r *Registry) Write(team, worker string, hb *Heartbeat) error {
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat for %s: %w", worker, err)
	}
	if err := utils.WriteFileAtomic(r.path(team, worker), data, 0644); err != nil {
		return fmt.Errorf("failed to write heartbeat for %s: %w", worker, err)
	}
	return nil
}

// Read returns the worker's heartbeat, or nil when the file is missing or
// corrupt. It never returns a parse error.
func (r *Registry) Read(team, worker string) *Heartbeat {
	data, err := os.ReadFile(r.path(team, worker))
	if err != nil {
		return nil
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil
	}
	return &hb
}

// IsAlive reports whether a worker's heartbeat is newer than maxAge. The age
// comparison is strict, so a zero maxAge always reports dead. An absent,
// corrupt, or unparsable lastPollAt also reports dead. A heartbeat stamped in
// the future has negative age and reports alive, tolerating minor clock skew.
func (r *Registry) IsAlive(team, worker string, maxAge time.Duration) bool {
	hb := r.Read(team, worker)
	if hb == nil {
		return false
	}

	lastPoll, err := time.Parse(time.RFC3339, hb.LastPollAt)
	if err != nil {
		return false
	}

	return time.Since(lastPoll) < maxAge
}

// List returns every heartbeat in a team's directory that parses
// successfully, silently omitting corrupt records. A missing team directory
// lists as empty.
func (r *Registry) List(team string) ([]*Heartbeat, error) {
	entries, err := os.ReadDir(r.teamDir(team))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read heartbeat directory for team %s: %w", team, err)
	}

	var beats []*Heartbeat
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		worker := strings.TrimSuffix(entry.Name(), fileSuffix)
		if hb := r.Read(team, worker); hb != nil {
			beats = append(beats, hb)
		}
	}
	return beats, nil
}

// Delete removes a worker's heartbeat file. Idempotent.
func (r *Registry) Delete(team, worker string) error {
	return utils.RemoveIfExists(r.path(team, worker))
}

// CleanupTeam deletes the entire contents of a team's heartbeat directory,
// not just heartbeat files. Anything parked in that directory goes with it.
func (r *Registry) CleanupTeam(team string) error {
	return utils.CleanDirectoryContents(r.teamDir(team))
}
