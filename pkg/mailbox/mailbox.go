// Package mailbox implements per-worker message logs under teams/<team>/.
// Inboxes are append-only newline-delimited JSON files paired with a
// persisted byte-offset cursor; outboxes are append-only logs with size-based
// rotation. Each log has exactly one consumer.
package mailbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"teambridge/pkg/utils"
)

const (
	logSuffix    = ".jsonl"
	cursorSuffix = ".jsonl.offset"
	signalSuffix = ".shutdown"
)

// Message is one inbox or outbox line. Beyond the conventional "type" and
// "timestamp" keys the payload is free-form.
type Message map[string]any

// Type returns the message's "type" field, or "" when absent.
func (m Message) Type() string {
	if t, ok := m["type"].(string); ok {
		return t
	}
	return ""
}

// Mailbox manages inbox, outbox, and shutdown-signal files for all workers
// of all teams under a single teams/ root.
type Mailbox struct {
	teamsDir string
}

// New creates a mailbox rooted at teamsDir.
func New(teamsDir string) *Mailbox {
	return &Mailbox{teamsDir: teamsDir}
}

func (m *Mailbox) inboxPath(team, worker string) string {
	return filepath.Join(m.teamsDir, team, "inbox", worker+logSuffix)
}

func (m *Mailbox) cursorPath(team, worker string) string {
	return filepath.Join(m.teamsDir, team, "inbox", worker+cursorSuffix)
}

func (m *Mailbox) outboxPath(team, worker string) string {
	return filepath.Join(m.teamsDir, team, "outbox", worker+logSuffix)
}

func (m *Mailbox) signalPath(team, worker string) string {
	return filepath.Join(m.teamsDir, team, "signals", worker+signalSuffix)
}

// readCursor returns the persisted byte offset for a worker's inbox, or 0
// when the cursor file is absent or unparsable.
func (m *Mailbox) readCursor(team, worker string) int64 {
	data, err := os.ReadFile(m.cursorPath(team, worker))
	if err != nil {
		return 0
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// writeCursor persists the offset atomically. A torn cursor would read back
// as 0 and redeliver the whole inbox.
func (m *Mailbox) writeCursor(team, worker string, offset int64) error {
	path := m.cursorPath(team, worker)
	if err := utils.WriteFileAtomic(path, []byte(strconv.FormatInt(offset, 10)), 0644); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return nil
}

// AppendInbox appends one message line to a worker's inbox, creating
// directories and the log as needed.
func (m *Mailbox) AppendInbox(team, worker string, msg Message) error {
	return appendLine(m.inboxPath(team, worker), msg)
}

// ReadNewInboxMessages reads messages appended since the persisted cursor and
// advances the cursor past the last fully consumed valid line. On the first
// unparsable line it stops and returns only the valid prefix, leaving the
// cursor before the bad line so the gap is visible on every subsequent read.
// Only newline-terminated lines are consumed; a trailing partial line is left
// for the next poll.
func (m *Mailbox) ReadNewInboxMessages(team, worker string) ([]Message, error) {
	cursor := m.readCursor(team, worker)

	data, err := os.ReadFile(m.inboxPath(team, worker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read inbox for %s: %w", worker, err)
	}
	if cursor >= int64(len(data)) {
		return nil, nil
	}

	var messages []Message
	consumed := cursor
	rest := data[cursor:]
	for {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			break
		}
		line := rest[:nl]
		rest = rest[nl+1:]

		if len(bytes.TrimSpace(line)) == 0 {
			consumed += int64(nl + 1)
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			break
		}
		messages = append(messages, msg)
		consumed += int64(nl + 1)
	}

	if consumed != cursor {
		if err := m.writeCursor(team, worker, consumed); err != nil {
			return messages, err
		}
	}
	return messages, nil
}

// ReadAllInboxMessages reads the whole inbox from byte zero, ignoring the
// cursor and skipping unparsable lines. The skip-and-continue policy is
// deliberately different from ReadNewInboxMessages, which must deliver a
// gap-free prefix.
func (m *Mailbox) ReadAllInboxMessages(team, worker string) ([]Message, error) {
	data, err := os.ReadFile(m.inboxPath(team, worker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read inbox for %s: %w", worker, err)
	}

	var messages []Message
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ClearInbox deletes a worker's inbox log and cursor. Missing files are fine.
func (m *Mailbox) ClearInbox(team, worker string) error {
	for _, path := range []string{m.inboxPath(team, worker), m.cursorPath(team, worker)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear inbox for %s: %w", worker, err)
		}
	}
	return nil
}

// CleanupWorkerFiles removes a worker's inbox, cursor, outbox, and shutdown
// signal. Best effort: errors are ignored and any subset may already be gone.
func (m *Mailbox) CleanupWorkerFiles(team, worker string) {
	_ = os.Remove(m.inboxPath(team, worker))
	_ = os.Remove(m.cursorPath(team, worker))
	_ = os.Remove(m.outboxPath(team, worker))
	_ = os.Remove(m.signalPath(team, worker))
}

// appendLine marshals v and appends it as one JSONL line, creating parent
// directories as needed.
func appendLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}
