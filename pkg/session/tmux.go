// Package session starts and stops the supervised tmux sessions that run
// worker backend processes. Session names are always the output of pkg/names,
// never raw caller input.
package session

import (
	"context"
	"fmt"
	"os/exec"
)

// Tmux abstracts the tmux operations the supervisor needs, so it can be
// tested without a tmux server.
type Tmux interface {
	NewSession(ctx context.Context, name, dir string, command []string) error
	KillSession(ctx context.Context, name string) error
	HasSession(ctx context.Context, name string) bool
}

// RealTmux shells out to the tmux binary.
type RealTmux struct{}

// NewSession starts a detached session running command, optionally rooted at
// dir. This is the one latent call in the coordination core: it blocks for
// the duration of the tmux invocation.
func (RealTmux) NewSession(ctx context.Context, name, dir string, command []string) error {
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	args = append(args, command...)

	if out, err := exec.CommandContext(ctx, "tmux", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("create tmux session %s: %w (%s)", name, err, out)
	}
	return nil
}

// KillSession terminates a named session.
func (RealTmux) KillSession(ctx context.Context, name string) error {
	if out, err := exec.CommandContext(ctx, "tmux", "kill-session", "-t", name).CombinedOutput(); err != nil {
		return fmt.Errorf("kill tmux session %s: %w (%s)", name, err, out)
	}
	return nil
}

// HasSession reports whether a named session exists.
func (RealTmux) HasSession(ctx context.Context, name string) bool {
	return exec.CommandContext(ctx, "tmux", "has-session", "-t", name).Run() == nil
}
