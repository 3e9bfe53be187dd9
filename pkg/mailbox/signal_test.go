package mailbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestShutdownSignal_RoundTrip(t *testing.T) {
	m := newTestMailbox(t)

	if sig := m.CheckShutdownSignal("alpha", "drone-1"); sig != nil {
		t.Errorf("Expected no signal before write, got %+v", sig)
	}

	written, err := m.WriteShutdownSignal("alpha", "drone-1", "maintenance window")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if written.RequestID == "" {
		t.Error("Expected a generated request id")
	}

	got := m.CheckShutdownSignal("alpha", "drone-1")
	if got == nil {
		t.Fatal("Expected signal to be readable")
	}
	if got.RequestID != written.RequestID || got.Reason != "maintenance window" {
		t.Errorf("Round-trip mismatch: wrote %+v, read %+v", written, got)
	}
}

func TestShutdownSignal_ReissueOverwrites(t *testing.T) {
	m := newTestMailbox(t)

	first, err := m.WriteShutdownSignal("alpha", "drone-1", "first")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.WriteShutdownSignal("alpha", "drone-1", "second")
	if err != nil {
		t.Fatal(err)
	}
	if first.RequestID == second.RequestID {
		t.Error("Expected a fresh request id on reissue")
	}

	got := m.CheckShutdownSignal("alpha", "drone-1")
	if got == nil || got.Reason != "second" {
		t.Errorf("Expected the reissued signal, got %+v", got)
	}
}

func TestShutdownSignal_CorruptReadsAsNone(t *testing.T) {
	m := newTestMailbox(t)
	path := filepath.Join(m.teamsDir, "alpha", "signals", "drone-1.shutdown")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{torn"), 0644); err != nil {
		t.Fatal(err)
	}

	if sig := m.CheckShutdownSignal("alpha", "drone-1"); sig != nil {
		t.Errorf("Expected corrupt signal to read as none, got %+v", sig)
	}
}

func TestClearShutdownSignal_Idempotent(t *testing.T) {
	m := newTestMailbox(t)

	if err := m.ClearShutdownSignal("alpha", "drone-1"); err != nil {
		t.Errorf("Expected no error clearing absent signal, got %v", err)
	}

	if _, err := m.WriteShutdownSignal("alpha", "drone-1", "stop"); err != nil {
		t.Fatal(err)
	}
	if err := m.ClearShutdownSignal("alpha", "drone-1"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if sig := m.CheckShutdownSignal("alpha", "drone-1"); sig != nil {
		t.Errorf("Expected signal gone after clear, got %+v", sig)
	}
	if err := m.ClearShutdownSignal("alpha", "drone-1"); err != nil {
		t.Errorf("Expected second clear to be a no-op, got %v", err)
	}
}
