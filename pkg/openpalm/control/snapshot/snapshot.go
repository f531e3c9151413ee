// Package snapshot implements the staged-render → validate → snapshot →
// atomic-swap, prune pipeline for rendered artifacts, plus the
// stale-pending/backup recovery run at process start.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const maxSnapshots = 3

// Dir pairs a live directory with its pending staging counterpart.
type Dir struct {
	Live    string
	Pending string
}

// Apply validates, snapshots, and swaps each already-staged live/pending
// directory pair in dirs, then prunes old snapshots. validate runs before
// anything touches live state; if it returns an error, live state is left
// untouched.
//
// stateDir is <stateHome>, under which snapshots/<ISO-timestamp>/ is written.
func Apply(stateDir string, dirs []Dir, validate func() error, now time.Time) error {
	if validate != nil {
		if err := validate(); err != nil {
			return fmt.Errorf("validating rendered artifacts: %w", err)
		}
	}

	if err := snapshotCurrentState(stateDir, dirs, now); err != nil {
		return fmt.Errorf("snapshotting current state: %w", err)
	}

	if err := swap(dirs); err != nil {
		return fmt.Errorf("swapping staged artifacts into place: %w", err)
	}

	if err := pruneSnapshots(stateDir, maxSnapshots); err != nil {
		return fmt.Errorf("pruning old snapshots: %w", err)
	}
	return nil
}

// snapshotCurrentState copies each dir.Live into
// <stateDir>/snapshots/<ISO-timestamp>/<basename>. It is a no-op (returns
// nil) for any live directory that does not yet exist — the first-ever
// apply has nothing to snapshot.
func snapshotCurrentState(stateDir string, dirs []Dir, now time.Time) error {
	anyExists := false
	for _, d := range dirs {
		if _, err := os.Stat(d.Live); err == nil {
			anyExists = true
		}
	}
	if !anyExists {
		return nil
	}

	snapDir := filepath.Join(stateDir, "snapshots", now.UTC().Format("20060102T150405.000000000Z"))
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return err
	}

	for _, d := range dirs {
		if _, err := os.Stat(d.Live); os.IsNotExist(err) {
			continue
		}
		dst := filepath.Join(snapDir, filepath.Base(d.Live))
		if err := copyTree(d.Live, dst); err != nil {
			return err
		}
	}
	return nil
}

// swap renames each dir.Live to "<live>.old", dir.Pending to dir.Live, then
// removes the ".old" directories. A failure removing ".old" directories
// does not roll back — live state is already the new content at that point.
func swap(dirs []Dir) error {
	var oldPaths []string
	for _, d := range dirs {
		if _, err := os.Stat(d.Live); err == nil {
			old := d.Live + ".old"
			if err := os.Rename(d.Live, old); err != nil {
				return fmt.Errorf("renaming %s to .old: %w", d.Live, err)
			}
			oldPaths = append(oldPaths, old)
		}
		if err := os.Rename(d.Pending, d.Live); err != nil {
			return fmt.Errorf("renaming %s into place: %w", d.Pending, err)
		}
	}
	for _, old := range oldPaths {
		_ = os.RemoveAll(old)
	}
	return nil
}

// pruneSnapshots retains only the most recent keep snapshot directories,
// by lexicographic (== chronological, given the ISO-timestamp naming) order.
func pruneSnapshots(stateDir string, keep int) error {
	snapshotsDir := filepath.Join(stateDir, "snapshots")
	entries, err := os.ReadDir(snapshotsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) <= keep {
		return nil
	}
	for _, stale := range names[:len(names)-keep] {
		if err := os.RemoveAll(filepath.Join(snapshotsDir, stale)); err != nil {
			return err
		}
	}
	return nil
}

// CleanupStalePending removes any *.pending or *.old directories left by a
// previous crash, run once at process start before serving.
func CleanupStalePending(stateDir string) error {
	entries, err := os.ReadDir(stateDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if hasSuffix(name, ".pending") || hasSuffix(name, ".old") {
			if err := os.RemoveAll(filepath.Join(stateDir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
