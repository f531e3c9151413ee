package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAppendsJSONLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer log.Close()

	log.Record(map[string]any{"status": "accepted", "requestId": "r1"})
	log.Record(map[string]any{"status": "denied", "requestId": "r2", "reason": "invalid_signature"})

	events, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0]["status"] != "accepted" || events[1]["status"] != "denied" {
		t.Fatalf("events out of order or wrong content: %+v", events)
	}
	if _, ok := events[0]["at"]; !ok {
		t.Fatal("event missing stamped \"at\" field")
	}
}

func TestRecordPreservesExplicitTimestamp(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	log.Record(map[string]any{"status": "accepted", "at": "2026-01-01T00:00:00Z"})

	events, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if events[0]["at"] != "2026-01-01T00:00:00Z" {
		t.Fatalf("at = %v, want explicit timestamp preserved", events[0]["at"])
	}
}

func TestReadAllMissingFileReturnsNoEvents(t *testing.T) {
	t.Parallel()
	events, err := ReadAll(filepath.Join(t.TempDir(), "missing.log"))
	if err != nil {
		t.Fatalf("ReadAll() error = %v, want nil", err)
	}
	if events != nil {
		t.Fatalf("events = %v, want nil", events)
	}
}

func TestSubscribeReceivesNewRecords(t *testing.T) {
	t.Parallel()
	log, err := Open(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	events, cancel := log.Subscribe()
	defer cancel()

	log.Record(map[string]any{"status": "denied", "reason": "rate_limited"})

	select {
	case ev := <-events:
		if ev["reason"] != "rate_limited" {
			t.Fatalf("event = %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestCancelledSubscriberStopsReceiving(t *testing.T) {
	t.Parallel()
	log, err := Open(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	events, cancel := log.Subscribe()
	cancel()

	log.Record(map[string]any{"status": "ok"})

	if _, open := <-events; open {
		t.Fatal("channel still open after cancel")
	}
}

func TestAppendsAcrossMultipleOpens(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.log")

	log1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	log1.Record(map[string]any{"status": "accepted"})
	log1.Close()

	log2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log2.Close()
	log2.Record(map[string]any{"status": "denied"})

	events, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 across reopen", len(events))
	}
}
