package mailbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"teambridge/pkg/utils"
)

// AppendOutbox appends one entry line to a worker's outbox, creating
// directories and the log as needed.
func (m *Mailbox) AppendOutbox(team, worker string, entry Message) error {
	return appendLine(m.outboxPath(team, worker), entry)
}

// ReadOutbox returns every parsable entry in a worker's outbox, oldest first.
// A missing log reads as empty; unparsable lines are skipped.
func (m *Mailbox) ReadOutbox(team, worker string) ([]Message, error) {
	data, err := os.ReadFile(m.outboxPath(team, worker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read outbox for %s: %w", worker, err)
	}

	var entries []Message
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry Message
		if jsonErr := json.Unmarshal(line, &entry); jsonErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RotateOutboxIfNeeded truncates a worker's outbox when it exceeds maxLines,
// keeping only the floor(maxLines/2) most recent lines. A log at or under the
// limit is untouched. maxLines of zero rotates to an empty log; it does not
// silently preserve everything.
func (m *Mailbox) RotateOutboxIfNeeded(team, worker string, maxLines int) error {
	path := m.outboxPath(team, worker)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read outbox for %s: %w", worker, err)
	}

	lines := splitLines(data)
	if len(lines) <= maxLines {
		return nil
	}

	keep := maxLines / 2
	if keep < 0 {
		keep = 0
	}
	kept := lines[len(lines)-keep:]
	if keep == 0 {
		kept = nil
	}

	var buf bytes.Buffer
	for _, line := range kept {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := utils.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to rotate outbox for %s: %w", worker, err)
	}
	return nil
}

// splitLines splits a JSONL buffer into its non-empty lines.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
