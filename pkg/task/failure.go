package task

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"teambridge/pkg/utils"
)

// FailureRecord is the per-task retry sidecar. It lives next to the task file
// and has an independent lifecycle.
type FailureRecord struct {
	RetryCount int    `json:"retryCount"`
	LastError  string `json:"lastError"`
	Timestamp  string `json:"timestamp"`
}

// WriteTaskFailure records a failed attempt for a task, incrementing the
// retry count from any existing sidecar. A corrupt sidecar restarts the
// counter at 1 rather than wedging the retry loop.
func (s *Store) WriteTaskFailure(team, id, lastError string) (*FailureRecord, error) {
	record := &FailureRecord{
		RetryCount: 1,
		LastError:  lastError,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	if prev, err := s.ReadTaskFailure(team, id); err == nil && prev != nil {
		record.RetryCount = prev.RetryCount + 1
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal failure record for task %s: %w", id, err)
	}
	if err := utils.WriteFileAtomic(s.failurePath(team, id), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write failure record for task %s: %w", id, err)
	}
	return record, nil
}

// ReadTaskFailure returns the failure sidecar for a task, or nil if it is
// missing or corrupt. It never returns a parse error.
func (s *Store) ReadTaskFailure(team, id string) (*FailureRecord, error) {
	data, err := os.ReadFile(s.failurePath(team, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read failure record for task %s: %w", id, err)
	}

	var record FailureRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, nil // Corrupt sidecar reads as absent.
	}
	return &record, nil
}
