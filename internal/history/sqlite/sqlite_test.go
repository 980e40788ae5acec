package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loykin/hylord/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
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
	start := history.NewEvent(history.EventStart, "hytale")
	start.PID = 4242
	join := history.NewEvent(history.EventJoin, "hytale")
	join.Player, join.Identity = "Steve", "abc-123"
	stop := history.NewEvent(history.EventStop, "hytale")
	stop.PID = 4242

	for _, e := range []history.Event{start, join, stop} {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	total, err := sink.Count(ctx, "")
	if err != nil || total != 3 {
		t.Fatalf("total = %d, %v", total, err)
	}
	joins, err := sink.Count(ctx, history.EventJoin)
	if err != nil || joins != 1 {
		t.Fatalf("joins = %d, %v", joins, err)
	}
}

func TestSQLiteSink_ReopenKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Send(context.Background(), history.NewEvent(history.EventBackup, "hytale")); err != nil {
		t.Fatal(err)
	}
	_ = sink.Close()

	sink, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if n, err := sink.Count(context.Background(), history.EventBackup); err != nil || n != 1 {
		t.Fatalf("count after reopen = %d, %v", n, err)
	}
}

func TestSQLiteSink_DuplicateID(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sink.Close() }()
	e := history.NewEvent(history.EventCrash, "hytale")
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if err := sink.Send(context.Background(), e); err == nil {
		t.Fatal("expected primary key violation for a repeated event id")
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
