package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestApplyFirstEverHasNoSnapshot(t *testing.T) {
	t.Parallel()
	stateDir := t.TempDir()
	live := filepath.Join(stateDir, "artifacts")
	pending := filepath.Join(stateDir, "artifacts.pending")
	writeFile(t, filepath.Join(pending, "compose.yml"), "services: {}")

	err := Apply(stateDir, []Dir{{Live: live, Pending: pending}}, nil, time.Now())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(live, "compose.yml")); err != nil {
		t.Fatalf("live artifact missing after apply: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(stateDir, "snapshots"))
	if len(entries) != 0 {
		t.Fatalf("expected no snapshot on first-ever apply, got %d", len(entries))
	}
}

func TestApplySnapshotsPriorState(t *testing.T) {
	t.Parallel()
	stateDir := t.TempDir()
	live := filepath.Join(stateDir, "artifacts")
	pending := filepath.Join(stateDir, "artifacts.pending")

	writeFile(t, filepath.Join(live, "compose.yml"), "version: 1")
	writeFile(t, filepath.Join(pending, "compose.yml"), "version: 2")

	if err := Apply(stateDir, []Dir{{Live: live, Pending: pending}}, nil, time.Now()); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(live, "compose.yml"))
	if err != nil || string(content) != "version: 2" {
		t.Fatalf("live content = %q, err=%v, want version: 2", content, err)
	}

	snaps, err := os.ReadDir(filepath.Join(stateDir, "snapshots"))
	if err != nil || len(snaps) != 1 {
		t.Fatalf("expected exactly 1 snapshot, got %d, err=%v", len(snaps), err)
	}
	snapContent, err := os.ReadFile(filepath.Join(stateDir, "snapshots", snaps[0].Name(), "artifacts", "compose.yml"))
	if err != nil || string(snapContent) != "version: 1" {
		t.Fatalf("snapshot content = %q, err=%v, want version: 1 (pre-corruption)", snapContent, err)
	}
}

func TestApplyAbortsOnValidationFailure(t *testing.T) {
	t.Parallel()
	stateDir := t.TempDir()
	live := filepath.Join(stateDir, "artifacts")
	pending := filepath.Join(stateDir, "artifacts.pending")
	writeFile(t, filepath.Join(live, "compose.yml"), "version: 1")
	writeFile(t, filepath.Join(pending, "compose.yml"), "version: bad")

	err := Apply(stateDir, []Dir{{Live: live, Pending: pending}}, func() error {
		return os.ErrInvalid
	}, time.Now())
	if err == nil {
		t.Fatalf("Apply() error = nil, want error on validation failure")
	}

	content, _ := os.ReadFile(filepath.Join(live, "compose.yml"))
	if string(content) != "version: 1" {
		t.Fatalf("live state mutated despite validation failure: %q", content)
	}
}

func TestPruneSnapshotsRetainsMostRecentN(t *testing.T) {
	t.Parallel()
	stateDir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(stateDir, "snapshots", time.Now().Add(time.Duration(i)*time.Second).Format("20060102T150405.000000000Z"), "marker"), "x")
	}
	if err := pruneSnapshots(stateDir, maxSnapshots); err != nil {
		t.Fatalf("pruneSnapshots() error = %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(stateDir, "snapshots"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != maxSnapshots {
		t.Fatalf("len(entries) = %d, want %d", len(entries), maxSnapshots)
	}
}

func TestCleanupStalePendingRemovesStaleDirectories(t *testing.T) {
	t.Parallel()
	stateDir := t.TempDir()
	writeFile(t, filepath.Join(stateDir, "artifacts.pending", "x"), "x")
	writeFile(t, filepath.Join(stateDir, "artifacts.old", "x"), "x")
	writeFile(t, filepath.Join(stateDir, "artifacts", "x"), "x")

	if err := CleanupStalePending(stateDir); err != nil {
		t.Fatalf("CleanupStalePending() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(stateDir, "artifacts.pending")); !os.IsNotExist(err) {
		t.Fatalf("artifacts.pending still present")
	}
	if _, err := os.Stat(filepath.Join(stateDir, "artifacts.old")); !os.IsNotExist(err) {
		t.Fatalf("artifacts.old still present")
	}
	if _, err := os.Stat(filepath.Join(stateDir, "artifacts")); err != nil {
		t.Fatalf("live artifacts directory removed unexpectedly: %v", err)
	}
}
