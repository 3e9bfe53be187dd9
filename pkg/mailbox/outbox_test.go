package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func appendEntries(t *testing.T, m *Mailbox, team, worker string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := m.AppendOutbox(team, worker, Message{"type": "progress", "seq": i})
		if err != nil {
			t.Fatalf("Failed to append outbox entry %d: %v", i, err)
		}
	}
}

func TestAppendOutbox_CreatesLog(t *testing.T) {
	m := newTestMailbox(t)
	appendEntries(t, m, "alpha", "drone-1", 1)

	entries, err := m.ReadOutbox("alpha", "drone-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(entries) != 1 || entries[0].Type() != "progress" {
		t.Errorf("Expected one progress entry, got %v", entries)
	}
}

func TestRotateOutboxIfNeeded_AtLimitIsNoOp(t *testing.T) {
	m := newTestMailbox(t)
	appendEntries(t, m, "alpha", "drone-1", 10)

	if err := m.RotateOutboxIfNeeded("alpha", "drone-1", 10); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	entries, err := m.ReadOutbox("alpha", "drone-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 10 {
		t.Errorf("Expected 10 entries untouched, got %d", len(entries))
	}
}

func TestRotateOutboxIfNeeded_OverLimitKeepsHalf(t *testing.T) {
	m := newTestMailbox(t)
	appendEntries(t, m, "alpha", "drone-1", 11)

	if err := m.RotateOutboxIfNeeded("alpha", "drone-1", 10); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	entries, err := m.ReadOutbox("alpha", "drone-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("Expected 5 entries after rotation, got %d", len(entries))
	}
	// Most recent last: entries 6..10 survive.
	if entries[0]["seq"] != float64(6) || entries[4]["seq"] != float64(10) {
		t.Errorf("Expected entries 6..10, got first=%v last=%v", entries[0]["seq"], entries[4]["seq"])
	}
}

func TestRotateOutboxIfNeeded_ZeroMaxTruncates(t *testing.T) {
	m := newTestMailbox(t)
	appendEntries(t, m, "alpha", "drone-1", 3)

	if err := m.RotateOutboxIfNeeded("alpha", "drone-1", 0); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	entries, err := m.ReadOutbox("alpha", "drone-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty outbox, got %d entries", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(m.teamsDir, "alpha", "outbox", "drone-1.jsonl"))
	if err != nil {
		t.Fatalf("Expected log file to survive truncation: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected zero-length log, got %q", data)
	}
}

func TestRotateOutboxIfNeeded_MissingLog(t *testing.T) {
	m := newTestMailbox(t)
	if err := m.RotateOutboxIfNeeded("alpha", "ghost", 10); err != nil {
		t.Errorf("Expected no error for missing outbox, got %v", err)
	}
}

func TestOutboxGrowthBoundedUnderRotation(t *testing.T) {
	m := newTestMailbox(t)
	const maxLines = 6

	for i := 0; i < 40; i++ {
		err := m.AppendOutbox("alpha", "drone-1", Message{"type": "progress", "note": fmt.Sprintf("tick %d", i)})
		if err != nil {
			t.Fatal(err)
		}
		if err := m.RotateOutboxIfNeeded("alpha", "drone-1", maxLines); err != nil {
			t.Fatal(err)
		}

		entries, err := m.ReadOutbox("alpha", "drone-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) > maxLines {
			t.Fatalf("Outbox exceeded max after rotation: %d > %d", len(entries), maxLines)
		}
	}
}
