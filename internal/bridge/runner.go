// Package bridge runs the worker poll loop: each tick it checks for a
// shutdown signal, drains the inbox, claims and executes one task when idle,
// and refreshes the worker's heartbeat. All coordination goes through the
// filesystem; the loop never blocks waiting on another process.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"teambridge/pkg/config"
	"teambridge/pkg/heartbeat"
	"teambridge/pkg/logx"
	"teambridge/pkg/mailbox"
	"teambridge/pkg/metrics"
	"teambridge/pkg/task"
)

// Executor runs one claimed task to completion. It is the boundary to the
// external AI backend: this core never performs inference itself.
type Executor interface {
	ExecuteTask(ctx context.Context, t *task.Task) (string, error)
}

// MessageHandler receives each batch of newly consumed inbox messages.
type MessageHandler func(msgs []mailbox.Message)

// Archiver records task status transitions. Satisfied by *archive.Archive;
// nil disables archiving.
type Archiver interface {
	RecordTransition(team, taskID, worker, fromStatus, toStatus, detail string) error
}

// Runner drives one worker's poll loop.
type Runner struct {
	team     string
	worker   string
	cfg      config.Config
	tasks    *task.Store
	mail     *mailbox.Mailbox
	beats    *heartbeat.Registry
	executor Executor
	logger   *logx.Logger

	// Optional collaborators.
	archive     Archiver
	recorder    *metrics.Recorder
	metricsPath string
	onMessages  MessageHandler

	consecutiveErrors int
	quarantined       bool
}

// Options holds the optional collaborators for a Runner.
type Options struct {
	Archive     Archiver
	Recorder    *metrics.Recorder
	MetricsPath string
	OnMessages  MessageHandler
}

// NewRunner wires a poll loop for one worker.
func NewRunner(team, worker string, cfg config.Config, tasks *task.Store,
	mail *mailbox.Mailbox, beats *heartbeat.Registry, executor Executor,
	logger *logx.Logger, opts Options) *Runner {
	return &Runner{
		team:        team,
		worker:      worker,
		cfg:         cfg,
		tasks:       tasks,
		mail:        mail,
		beats:       beats,
		executor:    executor,
		logger:      logger,
		archive:     opts.Archive,
		recorder:    opts.Recorder,
		metricsPath: opts.MetricsPath,
		onMessages:  opts.OnMessages,
	}
}

// Run polls until the context is cancelled or a shutdown signal arrives.
// Cancellation is cooperative: the signal file is only noticed at tick
// boundaries.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Worker %s/%s polling every %s", r.team, r.worker, r.cfg.PollInterval.Std())

	ticker := time.NewTicker(r.cfg.PollInterval.Std())
	defer ticker.Stop()

	for {
		stop, err := r.Tick(ctx)
		if err != nil {
			r.logger.Error("Poll tick failed: %v", err)
		}
		if stop {
			return nil
		}

		select {
		case <-ctx.Done():
			r.shutdown("context cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick executes one poll iteration. It returns true when the worker should
// stop. Tick is exported so tests and the host's own scheduler can drive the
// loop directly.
func (r *Runner) Tick(ctx context.Context) (bool, error) {
	if sig := r.mail.CheckShutdownSignal(r.team, r.worker); sig != nil {
		r.logger.Info("Shutdown signal %s received: %s", sig.RequestID, sig.Reason)
		r.ackShutdown(sig)
		return true, nil
	}

	tickErr := r.pollOnce(ctx)
	if tickErr != nil {
		r.consecutiveErrors++
		if r.recorder != nil {
			r.recorder.PollError(r.team, r.worker)
		}
		if !r.quarantined && r.consecutiveErrors >= r.cfg.QuarantineAfter {
			r.quarantined = true
			r.logger.Warn("Worker quarantined after %d consecutive errors", r.consecutiveErrors)
		}
	} else if !r.quarantined {
		// Quarantine is sticky for the life of the process; an operator
		// resolves it by restarting the worker.
		r.consecutiveErrors = 0
	}

	if err := r.writeHeartbeat(heartbeat.StatusPolling); err != nil {
		r.logger.Warn("Failed to write heartbeat: %v", err)
	}
	if r.recorder != nil {
		r.recorder.PollCompleted(r.team, r.worker, time.Now())
		if r.metricsPath != "" {
			if err := r.recorder.WriteTextfile(r.metricsPath); err != nil {
				r.logger.Warn("Failed to write metrics snapshot: %v", err)
			}
		}
	}

	return false, tickErr
}

// pollOnce drains the inbox and, when not quarantined, claims and executes
// one task.
func (r *Runner) pollOnce(ctx context.Context) error {
	msgs, err := r.mail.ReadNewInboxMessages(r.team, r.worker)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}
	if len(msgs) > 0 {
		r.logger.DebugDomain("mailbox", "consumed %d inbox messages", len(msgs))
		if r.recorder != nil {
			r.recorder.MessagesConsumed(r.team, r.worker, len(msgs))
		}
		if r.onMessages != nil {
			r.onMessages(msgs)
		}
	}

	if r.quarantined {
		return nil
	}

	claimed, err := r.ClaimNextTask()
	if err != nil {
		return err
	}
	if claimed == nil {
		return nil
	}

	return r.execute(ctx, claimed)
}

// ClaimNextTask finds the first eligible task and optimistically marks it
// in_progress under this worker's name. Nothing prevents two workers from
// claiming the same task; upstream allocation discipline is assumed.
func (r *Runner) ClaimNextTask() (*task.Task, error) {
	next, err := r.tasks.FindNextTask(r.team)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for next task: %w", err)
	}
	if next == nil {
		return nil, nil
	}

	status := task.StatusInProgress
	owner := r.worker
	if err := r.tasks.UpdateTask(r.team, next.ID, task.Update{
		Status: &status,
		Owner:  &owner,
	}); err != nil {
		return nil, fmt.Errorf("failed to claim task %s: %w", next.ID, err)
	}

	r.logger.DebugDomain("task", "claimed task %s", next.ID)
	r.recordTransition(next.ID, next.Status, task.StatusInProgress, "")
	if r.recorder != nil {
		r.recorder.TaskClaimed(r.team, r.worker)
	}
	next.Status = task.StatusInProgress
	next.Owner = owner
	return next, nil
}

// execute runs one claimed task through the backend and persists the
// outcome.
func (r *Runner) execute(ctx context.Context, t *task.Task) error {
	if err := r.writeHeartbeat(heartbeat.StatusExecuting); err != nil {
		r.logger.Warn("Failed to write heartbeat: %v", err)
	}

	result, execErr := r.executor.ExecuteTask(ctx, t)
	if execErr != nil {
		return r.handleFailure(t, execErr)
	}

	status := task.StatusCompleted
	if err := r.tasks.UpdateTask(r.team, t.ID, task.Update{Status: &status}); err != nil {
		return fmt.Errorf("failed to mark task %s completed: %w", t.ID, err)
	}
	r.recordTransition(t.ID, task.StatusInProgress, task.StatusCompleted, result)
	if r.recorder != nil {
		r.recorder.TaskCompleted(r.team, r.worker)
	}

	r.appendOutbox(mailbox.Message{
		"type":      "task_completed",
		"taskId":    t.ID,
		"result":    result,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	r.logger.Info("Completed task %s", t.ID)
	return nil
}

// handleFailure records the failure sidecar and either releases the task for
// retry or marks it failed once the retry budget is spent.
func (r *Runner) handleFailure(t *task.Task, execErr error) error {
	record, err := r.tasks.WriteTaskFailure(r.team, t.ID, execErr.Error())
	if err != nil {
		r.logger.Warn("Failed to write failure sidecar for task %s: %v", t.ID, err)
	}

	status := task.StatusPending
	retries := 0
	if record != nil {
		retries = record.RetryCount
	}
	if retries >= r.cfg.MaxRetries {
		status = task.StatusFailed
	}

	if err := r.tasks.UpdateTask(r.team, t.ID, task.Update{Status: &status}); err != nil {
		return errors.Join(execErr, fmt.Errorf("failed to update task %s after failure: %w", t.ID, err))
	}
	r.recordTransition(t.ID, task.StatusInProgress, status, execErr.Error())
	if r.recorder != nil {
		r.recorder.TaskFailed(r.team, r.worker)
	}

	r.appendOutbox(mailbox.Message{
		"type":      "task_failed",
		"taskId":    t.ID,
		"error":     execErr.Error(),
		"retries":   retries,
		"terminal":  status == task.StatusFailed,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return fmt.Errorf("task %s execution failed: %w", t.ID, execErr)
}

// ackShutdown acknowledges a shutdown signal and removes this worker's
// runtime state. All deletions are best effort.
func (r *Runner) ackShutdown(sig *mailbox.ShutdownSignal) {
	r.appendOutbox(mailbox.Message{
		"type":      "shutdown_ack",
		"requestId": sig.RequestID,
		"reason":    sig.Reason,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	r.shutdown(sig.Reason)
	if err := r.mail.ClearShutdownSignal(r.team, r.worker); err != nil {
		r.logger.Warn("Failed to clear shutdown signal: %v", err)
	}
}

func (r *Runner) shutdown(reason string) {
	if err := r.writeHeartbeat(heartbeat.StatusStopping); err != nil {
		r.logger.Warn("Failed to write final heartbeat: %v", err)
	}
	if err := r.beats.Delete(r.team, r.worker); err != nil {
		r.logger.Warn("Failed to delete heartbeat: %v", err)
	}
	r.logger.Info("Worker %s/%s stopping: %s", r.team, r.worker, reason)
}

func (r *Runner) writeHeartbeat(status string) error {
	if r.quarantined {
		status = heartbeat.StatusQuarantined
	}
	return r.beats.Write(r.team, r.worker, &heartbeat.Heartbeat{
		WorkerName:        r.worker,
		TeamName:          r.team,
		Provider:          r.cfg.Backend.Provider,
		PID:               os.Getpid(),
		LastPollAt:        time.Now().UTC().Format(time.RFC3339),
		ConsecutiveErrors: r.consecutiveErrors,
		Status:            status,
	})
}

func (r *Runner) appendOutbox(entry mailbox.Message) {
	if err := r.mail.AppendOutbox(r.team, r.worker, entry); err != nil {
		r.logger.Warn("Failed to append outbox entry: %v", err)
		return
	}
	if err := r.mail.RotateOutboxIfNeeded(r.team, r.worker, r.cfg.OutboxMaxLines); err != nil {
		r.logger.Warn("Failed to rotate outbox: %v", err)
	}
}

func (r *Runner) recordTransition(taskID, from, to, detail string) {
	if r.archive == nil {
		return
	}
	if err := r.archive.RecordTransition(r.team, taskID, r.worker, from, to, detail); err != nil {
		r.logger.Warn("Failed to archive transition for task %s: %v", taskID, err)
	}
}

// MetricsPathFor returns the default metrics snapshot location under a state
// directory.
func MetricsPathFor(stateDir string) string {
	return filepath.Join(stateDir, "metrics.prom")
}
