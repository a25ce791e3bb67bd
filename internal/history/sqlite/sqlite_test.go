package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jalho/rad/internal/history"
)

func events() []history.Event {
	now := time.Now().UTC()
	return []history.Event{
		{Type: history.EventSpawn, OccurredAt: now, Server: "RustDedicated", Cycle: 1, PID: 100},
		{Type: history.EventTransition, OccurredAt: now, Server: "RustDedicated", Cycle: 1, PID: 100, From: "starting", To: "unhealthy", Reason: "connection refused"},
		{Type: history.EventKill, OccurredAt: now, Server: "RustDedicated", Cycle: 1, PID: 100, Reason: "unhealthy"},
	}
}

func TestSQLiteSink_File(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	for _, e := range events() {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	n, err := sink.Count(ctx, "")
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}
	n, err = sink.Count(ctx, history.EventKill)
	if err != nil || n != 1 {
		t.Fatalf("kill count = %d, %v", n, err)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.Send(context.Background(), events()[0]); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n, _ := sink.Count(context.Background(), history.EventSpawn); n != 1 {
		t.Fatalf("spawn count = %d", n)
	}
}

func TestSQLiteSink_ReopenKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	s1, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = s1.Send(context.Background(), events()[0])
	_ = s1.Close()

	s2, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	if n, _ := s2.Count(context.Background(), ""); n != 1 {
		t.Fatalf("rows after reopen = %d", n)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
