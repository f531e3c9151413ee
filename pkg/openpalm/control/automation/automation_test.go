package automation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, action spec.Action) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.err
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestScheduler(d Dispatcher) *Scheduler {
	s := New(d, nil)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func TestFireRecordsSuccessfulExecution(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestScheduler(d)
	s.automations["job.yml"] = spec.Automation{FileName: "job.yml", Enabled: true, Action: spec.Action{Type: spec.ActionHTTP, URL: "http://x"}}

	s.fire("job.yml")

	log := s.ExecutionLog("job.yml")
	if len(log) != 1 {
		t.Fatalf("log length = %d, want 1", len(log))
	}
	if !log[0].OK {
		t.Fatalf("record.OK = false, want true")
	}
	if d.callCount() != 1 {
		t.Fatalf("dispatch calls = %d, want 1", d.callCount())
	}
}

func TestFireRecordsFailedExecution(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{err: errors.New("boom")}
	s := newTestScheduler(d)
	s.automations["job.yml"] = spec.Automation{FileName: "job.yml", Enabled: true}

	s.fire("job.yml")

	log := s.ExecutionLog("job.yml")
	if len(log) != 1 || log[0].OK {
		t.Fatalf("log = %+v, want one failed record", log)
	}
	if log[0].Error != "boom" {
		t.Fatalf("error = %q, want boom", log[0].Error)
	}
}

func TestFireSkipsOverlappingRun(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{block: make(chan struct{})}
	s := newTestScheduler(d)
	s.automations["job.yml"] = spec.Automation{FileName: "job.yml", Enabled: true}

	done := make(chan struct{})
	go func() {
		s.fire("job.yml")
		close(done)
	}()

	// Wait until the first run has actually entered the dispatcher.
	deadline := time.After(2 * time.Second)
	for d.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first run never reached the dispatcher")
		default:
		}
	}

	s.fire("job.yml") // should be skipped, no second dispatch call

	close(d.block)
	<-done

	if d.callCount() != 1 {
		t.Fatalf("dispatch calls = %d, want 1 (overlapping run should be skipped)", d.callCount())
	}
}

func TestExecutionLogCappedAtFifty(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestScheduler(d)
	for i := 0; i < executionLogCap+10; i++ {
		s.recordResult("job.yml", true, 1, "")
	}
	log := s.ExecutionLog("job.yml")
	if len(log) != executionLogCap {
		t.Fatalf("log length = %d, want %d", len(log), executionLogCap)
	}
}

func TestLoadDirSkipsUnparsableFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := "name: good\nschedule: \"0 0 * * *\"\nenabled: true\naction:\n  type: http\n  url: http://x\n"
	if err := os.WriteFile(filepath.Join(dir, "good.yml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.yml"), []byte("not: [valid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	badSchedule := "name: badsched\nschedule: \"not a schedule\"\nenabled: true\n"
	if err := os.WriteFile(filepath.Join(dir, "badschedule.yml"), []byte(badSchedule), 0o644); err != nil {
		t.Fatal(err)
	}

	d := &fakeDispatcher{}
	s := New(d, nil)
	if err := s.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}

	got := s.List()
	if len(got) != 1 {
		t.Fatalf("loaded %d automations, want 1: %+v", len(got), got)
	}
	if got[0].Name != "good" {
		t.Fatalf("loaded automation = %+v, want name=good", got[0])
	}
}

func TestLoadDirMissingDirIsNotError(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := New(d, nil)
	if err := s.LoadDir(filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("LoadDir() error = %v, want nil", err)
	}
}

func TestCanonicalizeScheduleResolvesPresets(t *testing.T) {
	t.Parallel()
	got, err := canonicalizeSchedule("@daily")
	if err != nil {
		t.Fatalf("canonicalizeSchedule() error = %v", err)
	}
	if got != "0 0 * * *" {
		t.Fatalf("canonicalizeSchedule(@daily) = %q, want %q", got, "0 0 * * *")
	}
}

func TestCanonicalizeSchedulePassesThroughExplicitCron(t *testing.T) {
	t.Parallel()
	got, err := canonicalizeSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("canonicalizeSchedule() error = %v", err)
	}
	if got != "*/5 * * * *" {
		t.Fatalf("canonicalizeSchedule() = %q, want unchanged", got)
	}
}
