// Package audit implements the append-only JSON-lines audit log shared by
// the guardian and the admin API: every accepted/denied/error event and
// every admin mutation (success or failure) is appended as one JSON object
// per line, fsynced before the call returns.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Log appends audit events to a single file, one JSON object per line.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	now  func() time.Time

	subMu  sync.Mutex
	subs   map[int]chan map[string]any
	nextID int
}

// Open opens (creating if necessary) the audit log at path for appending.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Log{path: path, file: f, now: time.Now, subs: make(map[int]chan map[string]any)}, nil
}

// Record appends event as a JSON line, stamping "at" if not already set,
// and fsyncs before returning so the record survives a crash immediately
// after. Marshal/write/fsync failures are logged to stderr rather than
// returned: the audit log must never block or crash the caller that's
// reporting an accept/deny/error decision.
func (l *Log) Record(event map[string]any) {
	if _, ok := event["at"]; !ok {
		event["at"] = l.now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: marshal failed: %v\n", err)
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write failed: %v\n", err)
		return
	}
	if err := l.file.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "audit: fsync failed: %v\n", err)
	}

	l.broadcast(event)
}

// Subscribe returns a channel that receives every event recorded after the
// call, plus a cancel func that must be called to release the subscription.
// A subscriber that falls behind has events dropped rather than blocking
// the writer.
func (l *Log) Subscribe() (<-chan map[string]any, func()) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	id := l.nextID
	l.nextID++
	ch := make(chan map[string]any, 64)
	l.subs[id] = ch

	cancel := func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (l *Log) broadcast(event map[string]any) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Events returns every recorded event in file order, for the admin API's
// GET /audit endpoint.
func (l *Log) Events() ([]map[string]any, error) {
	return ReadAll(l.path)
}

// ReadAll parses every line of the audit log at path into an event map, in
// file order. Used by the admin API's audit-tail surface and by tests.
func ReadAll(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var events []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var ev map[string]any
		if err := dec.Decode(&ev); err != nil {
			break
		}
		events = append(events, ev)
	}
	return events, nil
}
