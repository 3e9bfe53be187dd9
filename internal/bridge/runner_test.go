package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teambridge/pkg/config"
	"teambridge/pkg/heartbeat"
	"teambridge/pkg/logx"
	"teambridge/pkg/mailbox"
	"teambridge/pkg/task"
)

// fakeExecutor scripts task outcomes.
type fakeExecutor struct {
	executed []string
	fail     error
}

func (f *fakeExecutor) ExecuteTask(_ context.Context, t *task.Task) (string, error) {
	f.executed = append(f.executed, t.ID)
	if f.fail != nil {
		return "", f.fail
	}
	return "ok", nil
}

// fakeArchive records transitions in memory.
type fakeArchive struct {
	transitions []string
}

func (f *fakeArchive) RecordTransition(_, taskID, _, _, toStatus, _ string) error {
	f.transitions = append(f.transitions, taskID+"->"+toStatus)
	return nil
}

type fixture struct {
	runner   *Runner
	tasks    *task.Store
	mail     *mailbox.Mailbox
	beats    *heartbeat.Registry
	executor *fakeExecutor
	archive  *fakeArchive
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.QuarantineAfter = 3

	f := &fixture{
		tasks:    task.NewStore(filepath.Join(base, "tasks")),
		mail:     mailbox.New(filepath.Join(base, "teams")),
		beats:    heartbeat.NewRegistry(filepath.Join(base, "state", "team-bridge")),
		executor: &fakeExecutor{},
		archive:  &fakeArchive{},
	}
	f.runner = NewRunner("alpha", "drone-1", cfg, f.tasks, f.mail, f.beats,
		f.executor, logx.NewLogger("drone-1@alpha"), Options{Archive: f.archive})
	return f
}

func readStatus(t *testing.T, s *task.Store, team, id string) string {
	t.Helper()
	raw, err := s.ReadTask(team, id)
	require.NoError(t, err)
	obj, ok := raw.(map[string]any)
	require.True(t, ok, "task %s is not an object", id)
	status, _ := obj["status"].(string)
	return status
}

func TestTick_ClaimsAndCompletesTask(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tasks.CreateTask("alpha", &task.Task{ID: "1", Subject: "build"}))

	stop, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, stop)

	assert.Equal(t, []string{"1"}, f.executor.executed)
	assert.Equal(t, task.StatusCompleted, readStatus(t, f.tasks, "alpha", "1"))
	assert.Equal(t, []string{"1->in_progress", "1->completed"}, f.archive.transitions)

	entries, err := f.mail.ReadOutbox("alpha", "drone-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "task_completed", entries[0].Type())

	hb := f.beats.Read("alpha", "drone-1")
	require.NotNil(t, hb)
	assert.Equal(t, heartbeat.StatusPolling, hb.Status)
	assert.Equal(t, 0, hb.ConsecutiveErrors)
}

func TestTick_IdleWhenNoEligibleTask(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tasks.CreateTask("alpha", &task.Task{
		ID: "1", Status: task.StatusPending, BlockedBy: []string{"missing"},
	}))

	stop, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Empty(t, f.executor.executed)
	assert.Equal(t, task.StatusPending, readStatus(t, f.tasks, "alpha", "1"))
}

func TestTick_FailureReleasesThenTerminates(t *testing.T) {
	f := newFixture(t)
	f.executor.fail = errors.New("backend exploded")
	require.NoError(t, f.tasks.CreateTask("alpha", &task.Task{ID: "1"}))

	// First failure: retry budget (2) not yet spent, task goes back to pending.
	_, err := f.runner.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, task.StatusPending, readStatus(t, f.tasks, "alpha", "1"))

	record, err := f.tasks.ReadTaskFailure("alpha", "1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1, record.RetryCount)
	assert.Equal(t, "backend exploded", record.LastError)

	// Second failure exhausts the budget and the task is terminal.
	_, err = f.runner.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, task.StatusFailed, readStatus(t, f.tasks, "alpha", "1"))

	entries, err := f.mail.ReadOutbox("alpha", "drone-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "task_failed", entries[1].Type())
	assert.Equal(t, true, entries[1]["terminal"])
}

func TestTick_ShutdownSignalStopsWorker(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tasks.CreateTask("alpha", &task.Task{ID: "1"}))

	sig, err := f.mail.WriteShutdownSignal("alpha", "drone-1", "redeploy")
	require.NoError(t, err)

	stop, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, stop)

	// The task was never touched.
	assert.Empty(t, f.executor.executed)
	assert.Equal(t, task.StatusPending, readStatus(t, f.tasks, "alpha", "1"))

	// Signal cleared, heartbeat removed, ack written.
	assert.Nil(t, f.mail.CheckShutdownSignal("alpha", "drone-1"))
	assert.Nil(t, f.beats.Read("alpha", "drone-1"))

	entries, err := f.mail.ReadOutbox("alpha", "drone-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "shutdown_ack", entries[0].Type())
	assert.Equal(t, sig.RequestID, entries[0]["requestId"])
}

func TestTick_QuarantineAfterConsecutiveErrors(t *testing.T) {
	f := newFixture(t)
	f.executor.fail = errors.New("backend down")

	// Tasks keep failing; feed one per tick.
	for i := 1; i <= 3; i++ {
		id := string(rune('0' + i))
		require.NoError(t, f.tasks.CreateTask("alpha", &task.Task{ID: id}))
		_, err := f.runner.Tick(context.Background())
		require.Error(t, err)
	}

	hb := f.beats.Read("alpha", "drone-1")
	require.NotNil(t, hb)
	assert.Equal(t, heartbeat.StatusQuarantined, hb.Status)
	assert.Equal(t, 3, hb.ConsecutiveErrors)

	// While quarantined the worker stops claiming.
	require.NoError(t, f.tasks.CreateTask("alpha", &task.Task{ID: "9"}))
	before := len(f.executor.executed)
	stop, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Equal(t, before, len(f.executor.executed))
}

func TestTick_DeliversInboxMessages(t *testing.T) {
	f := newFixture(t)
	var received []mailbox.Message
	f.runner.onMessages = func(msgs []mailbox.Message) {
		received = append(received, msgs...)
	}

	require.NoError(t, f.mail.AppendInbox("alpha", "drone-1", mailbox.Message{"type": "hint", "n": float64(1)}))
	require.NoError(t, f.mail.AppendInbox("alpha", "drone-1", mailbox.Message{"type": "hint", "n": float64(2)}))

	_, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, received, 2)

	// Second tick delivers nothing new.
	_, err = f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, received, 2)
}
