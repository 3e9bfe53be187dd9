package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver supplies and validates the filesystem roots all coordination
// paths hang off. Every piece of shared state lives under a single root so
// the boundary can be enforced in one place.
type Resolver struct {
	root string
}

// NewResolver validates root and returns a resolver for it. The root must
// exist and be a directory.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("root directory %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	return &Resolver{root: abs}, nil
}

// Root returns the validated root directory.
func (r *Resolver) Root() string {
	return r.root
}

// TasksDir is the root of all per-team task directories.
func (r *Resolver) TasksDir() string {
	return filepath.Join(r.root, "tasks")
}

// TeamsDir is the root of all per-team mailbox directories.
func (r *Resolver) TeamsDir() string {
	return filepath.Join(r.root, "teams")
}

// TeamConfigDir is the root of the shared, human-editable team configs.
func (r *Resolver) TeamConfigDir() string {
	return filepath.Join(r.root, "teams")
}

// StateDir holds private runtime state: the shadow registry, probe result,
// archive database, and metrics snapshot.
func (r *Resolver) StateDir() string {
	return filepath.Join(r.root, "state")
}

// HeartbeatDir holds per-team heartbeat directories.
func (r *Resolver) HeartbeatDir() string {
	return filepath.Join(r.StateDir(), "team-bridge")
}

// ConfigPath is the runner configuration file.
func (r *Resolver) ConfigPath() string {
	return filepath.Join(r.root, "teambridge.yaml")
}

// Within reports whether path stays inside the resolver's root after
// normalization. Callers use it to reject traversal out of the shared state
// boundary.
func (r *Resolver) Within(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
