// Package quarantine implements the Quarantine Stager: the stability
// check, hash-and-copy, and tracker admission that turn a candidate
// source file into a staged FileTask ready for scanning.
package quarantine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shuttlehq/shuttle/internal/hasher"
	"github.com/shuttlehq/shuttle/internal/task"
	"github.com/shuttlehq/shuttle/internal/tracker"
)

// Stager stages candidate source files into the quarantine directory.
type Stager struct {
	quarantineRoot string
	stabilityWait  time.Duration
	hashAlgo       hasher.Algorithm
	tracker        *tracker.Tracker

	// watcher is advisory only: a CREATE/WRITE event on a candidate
	// during the stability wait short-circuits straight to "changed,
	// skip this run" without waiting out the full interval. Its
	// absence (watcher == nil) never changes correctness, only
	// latency, since the re-stat in Stage always runs regardless.
	watcher *fsnotify.Watcher
}

// New builds a Stager rooted at quarantineRoot. watcher may be nil; if
// non-nil it must already be watching (or able to watch) the source
// tree's parent directories.
func New(quarantineRoot string, stabilityWait time.Duration, algo hasher.Algorithm, tr *tracker.Tracker, watcher *fsnotify.Watcher) *Stager {
	return &Stager{
		quarantineRoot: quarantineRoot,
		stabilityWait:  stabilityWait,
		hashAlgo:       algo,
		tracker:        tr,
		watcher:        watcher,
	}
}

// ErrUnstable means the candidate changed during the stability window
// and was skipped for this run, not an error in the usual sense: the
// source is left untouched and the file may be picked up on a future
// run once it settles.
var ErrUnstable = fmt.Errorf("quarantine: candidate changed during stability check")

// ErrOpenElsewhere means the candidate appears to be held open by
// another process and was skipped for this run.
var ErrOpenElsewhere = fmt.Errorf("quarantine: candidate appears open by another process")

// Stage runs the full admission sequence for one candidate file found
// at sourcePath, relSubpath below the source root. On success it
// returns a populated FileTask; on any failure, admission for this
// file alone is aborted and nothing is deleted.
func (s *Stager) Stage(ctx context.Context, sourcePath, relSubpath string) (task.FileTask, error) {
	stable, err := s.checkStability(ctx, sourcePath)
	if err != nil {
		return task.FileTask{}, err
	}
	if !stable {
		return task.FileTask{}, ErrUnstable
	}

	if openElsewhere(sourcePath) {
		return task.FileTask{}, ErrOpenElsewhere
	}

	quarantinePath := filepath.Join(s.quarantineRoot, relSubpath)
	if err := os.MkdirAll(filepath.Dir(quarantinePath), 0o750); err != nil {
		return task.FileTask{}, fmt.Errorf("quarantine: mkdir %s: %w", filepath.Dir(quarantinePath), err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return task.FileTask{}, fmt.Errorf("quarantine: open %s: %w", sourcePath, err)
	}
	defer src.Close()

	dst, err := os.Create(quarantinePath)
	if err != nil {
		return task.FileTask{}, fmt.Errorf("quarantine: create %s: %w", quarantinePath, err)
	}

	digest, size, err := hasher.HashAndCopy(dst, src, s.hashAlgo)
	closeErr := dst.Close()
	if err != nil {
		os.Remove(quarantinePath)
		return task.FileTask{}, fmt.Errorf("quarantine: hash-and-copy %s: %w", sourcePath, err)
	}
	if closeErr != nil {
		os.Remove(quarantinePath)
		return task.FileTask{}, fmt.Errorf("quarantine: close %s: %w", quarantinePath, closeErr)
	}

	if err := s.tracker.Admit(digest, sourcePath, size); err != nil {
		os.Remove(quarantinePath)
		return task.FileTask{}, fmt.Errorf("quarantine: admit %s: %w", digest, err)
	}

	return task.FileTask{
		SourcePath:      sourcePath,
		QuarantinePath:  quarantinePath,
		RelativeSubpath: relSubpath,
		ContentHash:     digest,
		SizeBytes:       size,
		AdmittedAt:      time.Now(),
	}, nil
}

// checkStability records (size, mtime), waits the configured
// interval, then re-checks. A fsnotify event naming sourcePath during
// the wait is treated the same as a changed re-stat.
func (s *Stager) checkStability(ctx context.Context, sourcePath string) (bool, error) {
	before, err := os.Stat(sourcePath)
	if err != nil {
		return false, fmt.Errorf("quarantine: stat %s: %w", sourcePath, err)
	}

	changed := make(chan struct{}, 1)
	stop := make(chan struct{})
	defer close(stop)
	if s.watcher != nil {
		go watchFor(s.watcher, sourcePath, changed, stop)
	}

	timer := time.NewTimer(s.stabilityWait)
	defer timer.Stop()

	select {
	case <-changed:
		return false, nil
	case <-timer.C:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	after, err := os.Stat(sourcePath)
	if err != nil {
		return false, fmt.Errorf("quarantine: re-stat %s: %w", sourcePath, err)
	}

	if before.Size() != after.Size() || !before.ModTime().Equal(after.ModTime()) {
		return false, nil
	}
	return true, nil
}

// watchFor drains one relevant fsnotify event, if any, before the
// stability wait ends (stop is closed). It is best-effort: if the
// watcher isn't covering sourcePath's directory, nothing arrives and
// the caller's timer simply expires normally.
func watchFor(w *fsnotify.Watcher, sourcePath string, changed chan<- struct{}, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name != sourcePath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				select {
				case changed <- struct{}{}:
				default:
				}
				return
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}
