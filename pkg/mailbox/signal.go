package mailbox

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"teambridge/pkg/utils"
)

// ShutdownSignal asks a worker to stop at its next poll tick. At most one
// live signal file exists per worker; reissuing overwrites it. Delivery is
// pull-based only: workers poll for the file, nothing interrupts them.
type ShutdownSignal struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// WriteShutdownSignal issues a shutdown request for a worker, overwriting any
// prior signal unconditionally.
func (m *Mailbox) WriteShutdownSignal(team, worker, reason string) (*ShutdownSignal, error) {
	signal := &ShutdownSignal{
		RequestID: uuid.New().String(),
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(signal, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal shutdown signal: %w", err)
	}
	if err := utils.WriteFileAtomic(m.signalPath(team, worker), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write shutdown signal for %s: %w", worker, err)
	}
	return signal, nil
}

// CheckShutdownSignal returns the live shutdown signal for a worker, or nil
// when the file is missing or corrupt.
func (m *Mailbox) CheckShutdownSignal(team, worker string) *ShutdownSignal {
	data, err := os.ReadFile(m.signalPath(team, worker))
	if err != nil {
		return nil
	}

	var signal ShutdownSignal
	if err := json.Unmarshal(data, &signal); err != nil {
		return nil
	}
	return &signal
}

// ClearShutdownSignal deletes a worker's shutdown signal. Idempotent.
func (m *Mailbox) ClearShutdownSignal(team, worker string) error {
	if err := os.Remove(m.signalPath(team, worker)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear shutdown signal for %s: %w", worker, err)
	}
	return nil
}
