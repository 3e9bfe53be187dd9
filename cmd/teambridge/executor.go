package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"teambridge/pkg/config"
	"teambridge/pkg/logx"
	"teambridge/pkg/task"
)

// backendExecutor hands a claimed task to the external backend process. The
// task record goes to the backend's stdin as JSON; stdout is the result. The
// backend is the only place inference happens.
type backendExecutor struct {
	backend config.BackendConfig
	logger  *logx.Logger
}

func newBackendExecutor(backend config.BackendConfig, logger *logx.Logger) *backendExecutor {
	return &backendExecutor{backend: backend, logger: logger}
}

// ExecuteTask runs the backend command to completion for one task.
func (e *backendExecutor) ExecuteTask(ctx context.Context, t *task.Task) (string, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}

	cmd := exec.CommandContext(ctx, e.backend.Command[0], e.backend.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.DebugDomain("executor", "running backend for task %s", t.ID)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("backend failed for task %s: %s", t.ID, msg)
	}

	return strings.TrimSpace(stdout.String()), nil
}
