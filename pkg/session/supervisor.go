package session

import (
	"context"
	"fmt"

	"teambridge/pkg/logx"
	"teambridge/pkg/names"
)

// Supervisor manages the OS-level session behind each worker. It owns no
// worker state itself; it only translates (team, worker) into a safe session
// name and drives tmux.
type Supervisor struct {
	tmux       Tmux
	backendCmd []string
	logger     *logx.Logger
}

// NewSupervisor creates a supervisor that launches backendCmd (argv) inside
// each worker's session. The worker identity is appended as
// "-team <team> -worker <worker>".
func NewSupervisor(tmux Tmux, backendCmd []string, logger *logx.Logger) *Supervisor {
	return &Supervisor{
		tmux:       tmux,
		backendCmd: backendCmd,
		logger:     logger,
	}
}

// SessionName returns the tmux session name for a worker, rejecting invalid
// names outright.
func (s *Supervisor) SessionName(team, worker string) (string, error) {
	return names.SessionName(team, worker)
}

// CreateSession starts the worker's supervised session, optionally rooted at
// workingDir. The session name and the worker identity passed to the backend
// are both sanitized, which is the injection defense for everything tmux
// later interpolates.
func (s *Supervisor) CreateSession(ctx context.Context, team, worker, workingDir string) error {
	name, err := names.SessionName(team, worker)
	if err != nil {
		return err
	}
	safeTeam, err := names.Sanitize(team)
	if err != nil {
		return err
	}
	safeWorker, err := names.Sanitize(worker)
	if err != nil {
		return err
	}

	command := append(append([]string{}, s.backendCmd...),
		"-team", safeTeam, "-worker", safeWorker)

	if err := s.tmux.NewSession(ctx, name, workingDir, command); err != nil {
		return fmt.Errorf("failed to start session for %s/%s: %w", team, worker, err)
	}
	s.logger.Info("Started session %s for worker %s/%s", name, safeTeam, safeWorker)
	return nil
}

// KillSession terminates the worker's session. A session that does not exist
// is not an error.
func (s *Supervisor) KillSession(ctx context.Context, team, worker string) error {
	name, err := names.SessionName(team, worker)
	if err != nil {
		return err
	}

	if !s.tmux.HasSession(ctx, name) {
		return nil
	}
	if err := s.tmux.KillSession(ctx, name); err != nil {
		return fmt.Errorf("failed to kill session for %s/%s: %w", team, worker, err)
	}
	s.logger.Info("Killed session %s", name)
	return nil
}

// SessionExists reports whether the worker's session is running.
func (s *Supervisor) SessionExists(ctx context.Context, team, worker string) (bool, error) {
	name, err := names.SessionName(team, worker)
	if err != nil {
		return false, err
	}
	return s.tmux.HasSession(ctx, name), nil
}
