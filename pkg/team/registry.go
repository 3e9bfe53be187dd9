// Package team reconciles the shared, human-editable team configuration with
// the private shadow registry of runtime worker metadata. The shared config
// may be hand-edited or absent at any time, so every read of either store
// treats missing or corrupt content as empty.
package team

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"teambridge/pkg/utils"
)

const (
	configFilename = "config.json"
	shadowFilename = "team-mcp-workers.json"

	// BackendTmux is the exact backend label that marks a member as one of
	// our supervised workers. Matching is case-sensitive and untrimmed.
	BackendTmux = "tmux"
)

// Member is one entry in the shared team configuration.
type Member struct {
	Name        string `json:"name"`
	BackendType string `json:"backendType"`
	AgentType   string `json:"agentType"`
}

// Config is the shared team configuration file.
type Config struct {
	TeamName string   `json:"teamName"`
	Members  []Member `json:"members"`
}

// WorkerEntry is one record in the private shadow registry.
type WorkerEntry struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
	AgentID   string `json:"agentId"`
}

// shadowFile is the on-disk shape of the shadow registry.
type shadowFile struct {
	Workers []WorkerEntry `json:"workers"`
}

// Registry manages both stores. teamConfigDir holds per-team config
// directories; stateDir holds the shadow registry and probe result.
type Registry struct {
	teamConfigDir string
	stateDir      string
}

// NewRegistry creates a team registry over the given roots.
func NewRegistry(teamConfigDir, stateDir string) *Registry {
	return &Registry{teamConfigDir: teamConfigDir, stateDir: stateDir}
}

func (r *Registry) configPath(team string) string {
	return filepath.Join(r.teamConfigDir, team, configFilename)
}

func (r *Registry) shadowPath() string {
	return filepath.Join(r.stateDir, shadowFilename)
}

// AgentID composes the registry-wide worker identity.
func AgentID(worker, team string) string {
	return fmt.Sprintf("%s@%s", worker, team)
}

// IsBridgeWorker reports whether a shared-config member is one of our
// supervised workers: backendType must be the exact literal "tmux". Any other
// case, surrounding whitespace, or value is false.
func IsBridgeWorker(m Member) bool {
	return m.BackendType == BackendTmux
}

// readConfig loads a team's shared configuration, treating a missing or
// corrupt file as empty.
func (r *Registry) readConfig(team string) Config {
	var cfg Config
	data, err := os.ReadFile(r.configPath(team))
	if err != nil {
		return Config{TeamName: team}
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{TeamName: team}
	}
	if cfg.TeamName == "" {
		cfg.TeamName = team
	}
	return cfg
}

func (r *Registry) writeConfig(team string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal team config for %s: %w", team, err)
	}
	if err := utils.WriteFileAtomic(r.configPath(team), data, 0644); err != nil {
		return fmt.Errorf("failed to write team config for %s: %w", team, err)
	}
	return nil
}

// readShadow loads the shadow registry, treating a missing or corrupt file as
// empty.
func (r *Registry) readShadow() shadowFile {
	var s shadowFile
	data, err := os.ReadFile(r.shadowPath())
	if err != nil {
		return shadowFile{}
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return shadowFile{}
	}
	return s
}

func (r *Registry) writeShadow(s shadowFile) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal shadow registry: %w", err)
	}
	if err := utils.WriteFileAtomic(r.shadowPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write shadow registry: %w", err)
	}
	return nil
}

// agentTypeForProvider maps a backend provider to the canonical agent-type
// label used in the shared configuration.
func agentTypeForProvider(provider string) string {
	switch provider {
	case "claude":
		return "claude-code"
	case "codex":
		return "codex"
	case "gemini":
		return "gemini-cli"
	case "opencode":
		return "opencode"
	default:
		return provider
	}
}

// RegisterWorker upserts a worker into the shadow registry, keyed by name
// with last write winning. When a prior environment probe recorded
// compatibility with the shared configuration format, the worker is also
// upserted into the team's members list, deduped by name.
func (r *Registry) RegisterWorker(team, worker, provider, model, sessionID, cwd string) (*WorkerEntry, error) {
	entry := WorkerEntry{
		Name:      worker,
		Provider:  provider,
		Model:     model,
		SessionID: sessionID,
		Cwd:       cwd,
		AgentID:   AgentID(worker, team),
	}

	shadow := r.readShadow()
	replaced := false
	for i := range shadow.Workers {
		if shadow.Workers[i].Name == worker {
			shadow.Workers[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		shadow.Workers = append(shadow.Workers, entry)
	}
	if err := r.writeShadow(shadow); err != nil {
		return nil, err
	}

	if probe := r.ReadProbeResult(); probe != nil && probe.Compatible {
		cfg := r.readConfig(team)
		member := Member{
			Name:        worker,
			BackendType: BackendTmux,
			AgentType:   agentTypeForProvider(provider),
		}
		found := false
		for i := range cfg.Members {
			if cfg.Members[i].Name == worker {
				cfg.Members[i] = member
				found = true
				break
			}
		}
		if !found {
			cfg.Members = append(cfg.Members, member)
		}
		if err := r.writeConfig(team, cfg); err != nil {
			return nil, err
		}
	}

	return &entry, nil
}

// UnregisterWorker removes a worker from both stores. Either store being
// absent or corrupt is treated as empty; nothing here errors on missing
// state, and a store is only rewritten when an entry was actually removed.
func (r *Registry) UnregisterWorker(team, worker string) error {
	shadow := r.readShadow()
	kept := shadow.Workers[:0]
	agentID := AgentID(worker, team)
	for _, entry := range shadow.Workers {
		if entry.Name == worker && entry.AgentID == agentID {
			continue
		}
		kept = append(kept, entry)
	}
	if len(kept) != len(shadow.Workers) {
		shadow.Workers = kept
		if err := r.writeShadow(shadow); err != nil {
			return err
		}
	}

	cfg := r.readConfig(team)
	keptMembers := cfg.Members[:0]
	for _, m := range cfg.Members {
		if m.Name == worker {
			continue
		}
		keptMembers = append(keptMembers, m)
	}
	if len(keptMembers) == len(cfg.Members) {
		return nil
	}
	cfg.Members = keptMembers
	return r.writeConfig(team, cfg)
}

// ListWorkers returns the union of tmux-backed shared-config members and all
// shadow-registry entries for the team, normalized to WorkerEntry. Shadow
// entries win on name collisions since they carry richer metadata.
func (r *Registry) ListWorkers(team string) []WorkerEntry {
	byName := make(map[string]WorkerEntry)
	var order []string

	for _, m := range r.readConfig(team).Members {
		if !IsBridgeWorker(m) {
			continue
		}
		if _, seen := byName[m.Name]; !seen {
			order = append(order, m.Name)
		}
		byName[m.Name] = WorkerEntry{
			Name:    m.Name,
			AgentID: AgentID(m.Name, team),
		}
	}

	suffix := "@" + team
	for _, entry := range r.readShadow().Workers {
		if len(entry.AgentID) < len(suffix) || entry.AgentID[len(entry.AgentID)-len(suffix):] != suffix {
			continue
		}
		if _, seen := byName[entry.Name]; !seen {
			order = append(order, entry.Name)
		}
		byName[entry.Name] = entry
	}

	workers := make([]WorkerEntry, 0, len(order))
	for _, name := range order {
		workers = append(workers, byName[name])
	}
	return workers
}

// ProbeResult caches the outcome of one compatibility probe against the
// shared configuration format.
type ProbeResult struct {
	Compatible bool   `json:"probeResult"`
	ProbedAt   string `json:"probedAt"`
	Version    string `json:"version"`
}

func (r *Registry) probePath() string {
	return filepath.Join(r.stateDir, "config-probe-result.json")
}

// WriteProbeResult persists a probe outcome.
func (r *Registry) WriteProbeResult(compatible bool, version string) error {
	result := ProbeResult{
		Compatible: compatible,
		ProbedAt:   time.Now().UTC().Format(time.RFC3339),
		Version:    version,
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal probe result: %w", err)
	}
	if err := utils.WriteFileAtomic(r.probePath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write probe result: %w", err)
	}
	return nil
}

// ReadProbeResult returns the cached probe outcome, or nil when the file is
// missing or corrupt.
func (r *Registry) ReadProbeResult() *ProbeResult {
	data, err := os.ReadFile(r.probePath())
	if err != nil {
		return nil
	}
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return &result
}
