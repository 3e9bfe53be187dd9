package team

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	base := t.TempDir()
	return NewRegistry(filepath.Join(base, "teams"), filepath.Join(base, "state"))
}

func TestIsBridgeWorker(t *testing.T) {
	assert.True(t, IsBridgeWorker(Member{BackendType: "tmux"}))
	assert.False(t, IsBridgeWorker(Member{BackendType: "Tmux"}))
	assert.False(t, IsBridgeWorker(Member{BackendType: " tmux"}))
	assert.False(t, IsBridgeWorker(Member{BackendType: "tmux "}))
	assert.False(t, IsBridgeWorker(Member{BackendType: "docker"}))
	assert.False(t, IsBridgeWorker(Member{}))
}

func TestRegisterWorker_ShadowOnly(t *testing.T) {
	r := newTestRegistry(t)

	entry, err := r.RegisterWorker("alpha", "drone-1", "claude", "opus", "sess-1", "/work")
	require.NoError(t, err)
	assert.Equal(t, "drone-1@alpha", entry.AgentID)

	workers := r.ListWorkers("alpha")
	require.Len(t, workers, 1)
	assert.Equal(t, "drone-1@alpha", workers[0].AgentID)
	assert.Equal(t, "claude", workers[0].Provider)

	// No probe recorded compatibility, so the shared config got no member.
	cfg := r.readConfig("alpha")
	assert.Empty(t, cfg.Members)
}

func TestRegisterWorker_LastWriteWins(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.RegisterWorker("alpha", "drone-1", "claude", "opus", "sess-1", "/a")
	require.NoError(t, err)
	_, err = r.RegisterWorker("alpha", "drone-1", "codex", "gpt", "sess-2", "/b")
	require.NoError(t, err)

	workers := r.ListWorkers("alpha")
	require.Len(t, workers, 1)
	assert.Equal(t, "codex", workers[0].Provider)
	assert.Equal(t, "sess-2", workers[0].SessionID)
}

func TestRegisterWorker_UpsertsMembersAfterCompatibleProbe(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.WriteProbeResult(true, "1"))

	_, err := r.RegisterWorker("alpha", "drone-1", "claude", "opus", "sess-1", "/work")
	require.NoError(t, err)

	cfg := r.readConfig("alpha")
	require.Len(t, cfg.Members, 1)
	assert.Equal(t, "drone-1", cfg.Members[0].Name)
	assert.Equal(t, "tmux", cfg.Members[0].BackendType)
	assert.Equal(t, "claude-code", cfg.Members[0].AgentType)

	// Re-registering dedupes by name.
	_, err = r.RegisterWorker("alpha", "drone-1", "gemini", "pro", "sess-2", "/work")
	require.NoError(t, err)
	cfg = r.readConfig("alpha")
	require.Len(t, cfg.Members, 1)
	assert.Equal(t, "gemini-cli", cfg.Members[0].AgentType)
}

func TestUnregisterWorker(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.WriteProbeResult(true, "1"))

	_, err := r.RegisterWorker("alpha", "drone-1", "claude", "opus", "sess-1", "/work")
	require.NoError(t, err)

	require.NoError(t, r.UnregisterWorker("alpha", "drone-1"))
	assert.Empty(t, r.ListWorkers("alpha"))
	assert.Empty(t, r.readConfig("alpha").Members)
}

func TestUnregisterWorker_MissingStores(t *testing.T) {
	r := newTestRegistry(t)
	assert.NoError(t, r.UnregisterWorker("alpha", "ghost"))

	// Unregistering a worker that was never there must not materialize
	// either store as a side effect.
	_, err := os.Stat(r.shadowPath())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(r.configPath("alpha"))
	assert.True(t, os.IsNotExist(err))
}

func TestUnregisterWorker_CorruptStores(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, os.MkdirAll(r.stateDir, 0755))
	require.NoError(t, os.WriteFile(r.shadowPath(), []byte("{broken"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Dir(r.configPath("alpha")), 0755))
	require.NoError(t, os.WriteFile(r.configPath("alpha"), []byte("not json"), 0644))

	assert.NoError(t, r.UnregisterWorker("alpha", "drone-1"))
}

func TestListWorkers_UnionOfConfigAndShadow(t *testing.T) {
	r := newTestRegistry(t)

	// Hand-edited shared config with a tmux member and a foreign member.
	cfg := Config{
		TeamName: "alpha",
		Members: []Member{
			{Name: "hand-added", BackendType: "tmux", AgentType: "claude-code"},
			{Name: "external", BackendType: "slack", AgentType: "bot"},
		},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(r.configPath("alpha")), 0755))
	require.NoError(t, os.WriteFile(r.configPath("alpha"), data, 0644))

	_, err = r.RegisterWorker("alpha", "drone-1", "claude", "opus", "sess-1", "/work")
	require.NoError(t, err)
	// A worker on another team must not leak into alpha's listing.
	_, err = r.RegisterWorker("beta", "drone-9", "claude", "opus", "sess-9", "/work")
	require.NoError(t, err)

	workers := r.ListWorkers("alpha")
	require.Len(t, workers, 2)

	names := []string{workers[0].Name, workers[1].Name}
	assert.Contains(t, names, "hand-added")
	assert.Contains(t, names, "drone-1")
	for _, w := range workers {
		assert.Contains(t, w.AgentID, "@alpha")
	}
}

func TestListWorkers_CorruptFilesContributeNothing(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, os.MkdirAll(r.stateDir, 0755))
	require.NoError(t, os.WriteFile(r.shadowPath(), []byte("{broken"), 0644))

	assert.Empty(t, r.ListWorkers("alpha"))
}

func TestProbeResult_RoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	assert.Nil(t, r.ReadProbeResult())

	require.NoError(t, r.WriteProbeResult(true, "2"))
	got := r.ReadProbeResult()
	require.NotNil(t, got)
	assert.True(t, got.Compatible)
	assert.Equal(t, "2", got.Version)
	assert.NotEmpty(t, got.ProbedAt)
}

func TestProbeResult_CorruptReadsAsAbsent(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, os.MkdirAll(r.stateDir, 0755))
	require.NoError(t, os.WriteFile(r.probePath(), []byte("}{"), 0644))

	assert.Nil(t, r.ReadProbeResult())
}
