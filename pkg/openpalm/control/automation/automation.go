// Package automation implements the in-process cron scheduler:
// YAML job descriptors loaded from a directory, each dispatching an
// api/http/shell action on fire, with overrun protection and a bounded
// per-automation execution log.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
)

// executionLogCap bounds the in-memory execution ring per automation.
const executionLogCap = 50

// defaultActionTimeout is used when an action omits TimeoutSeconds.
const defaultActionTimeout = 30 * time.Second

// ExecutionRecord is one entry in an automation's execution ring.
type ExecutionRecord struct {
	At         time.Time
	OK         bool
	DurationMs int64
	Error      string
}

// Scheduler holds the active set of automations and drives their firing.
type Scheduler struct {
	dispatch Dispatcher
	history  HistoryStore
	logger   *slog.Logger

	mu          sync.RWMutex
	cron        *cron.Cron
	automations map[string]spec.Automation
	entryIDs    map[string]cron.EntryID
	running     map[string]bool
	logs        map[string][]ExecutionRecord

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// New creates a Scheduler that dispatches fired actions through dispatch.
func New(dispatch Dispatcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dispatch:    dispatch,
		logger:      logger.With("component", "automation"),
		automations: make(map[string]spec.Automation),
		entryIDs:    make(map[string]cron.EntryID),
		running:     make(map[string]bool),
		logs:        make(map[string][]ExecutionRecord),
		now:         time.Now,
	}
}

// SetHistory attaches a durable execution-history mirror. Saves are
// best-effort: a failing store never fails the run that produced the
// record.
func (s *Scheduler) SetHistory(h HistoryStore) {
	s.history = h
}

// LoadDir reads every *.yml file in dir into the automation set. Parse
// failures are logged and skipped.
func (s *Scheduler) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading automations dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("automation: failed to read file", "file", e.Name(), "error", err)
			continue
		}
		var a spec.Automation
		if err := yaml.Unmarshal(raw, &a); err != nil {
			s.logger.Warn("automation: failed to parse file", "file", e.Name(), "error", err)
			continue
		}
		a.FileName = e.Name()
		if err := ValidateSchedule(a.Schedule); err != nil {
			s.logger.Warn("automation: invalid schedule, skipping", "file", e.Name(), "error", err)
			continue
		}
		s.automations[a.FileName] = a
	}
	return nil
}

// Start builds the cron scheduler and registers every enabled automation.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	s.mu.Lock()
	for name, a := range s.automations {
		if !a.Enabled {
			continue
		}
		s.scheduleLocked(name, a)
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("automation scheduler started", "jobs", len(s.automations))
}

// scheduleLocked registers a (name, automation) pair with cron. Caller must
// hold s.mu.
func (s *Scheduler) scheduleLocked(name string, a spec.Automation) {
	canonical, err := canonicalizeSchedule(a.Schedule)
	if err != nil {
		s.logger.Warn("automation: cannot schedule", "name", name, "error", err)
		return
	}
	entryID, err := s.cron.AddFunc(canonical, func() {
		s.fire(name)
	})
	if err != nil {
		s.logger.Warn("automation: cron rejected schedule", "name", name, "schedule", canonical, "error", err)
		return
	}
	s.entryIDs[name] = entryID
}

// Stop halts the cron scheduler without waiting for running jobs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Reload stops the scheduler, clears execution logs, re-loads dir, and
// starts again.
func (s *Scheduler) Reload(ctx context.Context, dir string) error {
	s.Stop()

	s.mu.Lock()
	s.automations = make(map[string]spec.Automation)
	s.entryIDs = make(map[string]cron.EntryID)
	s.logs = make(map[string][]ExecutionRecord)
	s.mu.Unlock()

	if err := s.LoadDir(dir); err != nil {
		return err
	}
	s.Start(ctx)
	return nil
}

// List returns every loaded automation, enabled or not.
func (s *Scheduler) List() []spec.Automation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]spec.Automation, 0, len(s.automations))
	for _, a := range s.automations {
		out = append(out, a)
	}
	return out
}

// ExecutionLog returns the execution ring for the named automation file.
func (s *Scheduler) ExecutionLog(name string) []ExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExecutionRecord{}, s.logs[name]...)
}

// Get returns a single loaded automation by file name.
func (s *Scheduler) Get(name string) (spec.Automation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.automations[name]
	return a, ok
}

// RunNow fires the named automation immediately, outside its cron schedule,
// subject to the same overrun protection as a normal fire. Used by the
// admin API's POST /automations/{id}/run.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, ok := s.automations[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("automation %q not found", name)
	}
	s.fire(name)
	return nil
}

// fire dispatches an automation's action with overrun protection and panic
// recovery. A fire that overlaps a still-running execution is dropped.
func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("automation: skipping overlapping run", "name", name)
		return
	}
	a, ok := s.automations[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
		if r := recover(); r != nil {
			s.recordResult(name, false, 0, fmt.Sprintf("panic: %v", r))
			s.logger.Error("automation panicked", "name", name, "panic", r)
		}
	}()

	timeout := defaultActionTimeout
	if a.Action.TimeoutSeconds > 0 {
		timeout = time.Duration(a.Action.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	start := s.now()
	err := s.dispatch.Dispatch(ctx, a.Action)
	duration := s.now().Sub(start)

	ok2 := err == nil
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		s.logger.Error("automation failed", "name", name, "error", err, "duration", duration)
	} else {
		s.logger.Info("automation completed", "name", name, "duration", duration)
	}
	s.recordResult(name, ok2, duration.Milliseconds(), errMsg)
}

func (s *Scheduler) recordResult(name string, ok bool, durationMs int64, errMsg string) {
	rec := ExecutionRecord{At: s.now().UTC(), OK: ok, DurationMs: durationMs, Error: errMsg}

	s.mu.Lock()
	log := append(s.logs[name], rec)
	if len(log) > executionLogCap {
		log = log[len(log)-executionLogCap:]
	}
	s.logs[name] = log
	s.mu.Unlock()

	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.Save(ctx, name, rec); err != nil {
			s.logger.Warn("automation: history save failed", "name", name, "error", err)
		}
	}
}

var presetCrons = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// canonicalizeSchedule resolves preset shorthand (e.g. @daily) to its
// canonical 5-field cron form.
func canonicalizeSchedule(schedule string) (string, error) {
	s := strings.TrimSpace(schedule)
	if strings.HasPrefix(s, "@") {
		canonical, ok := presetCrons[strings.ToLower(s)]
		if !ok {
			return "", fmt.Errorf("unknown schedule preset %q", s)
		}
		return canonical, nil
	}
	return s, nil
}
