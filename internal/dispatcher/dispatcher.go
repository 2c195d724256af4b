// Package dispatcher implements the Post-Scan Dispatcher: routes each
// terminal verdict to its destination, hazard archive, or cleanup
// path, and is the sole place that deletes a source file.
package dispatcher

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shuttlehq/shuttle/internal/hasher"
	"github.com/shuttlehq/shuttle/internal/hazard"
	"github.com/shuttlehq/shuttle/internal/task"
	"github.com/shuttlehq/shuttle/internal/tracker"
)

// Config holds the dispatcher's settings.
type Config struct {
	DeleteSourceAfterCopy bool
	HashAlgo              hasher.Algorithm
}

// Dispatcher routes verdicts to their terminal disposition.
type Dispatcher struct {
	cfg     Config
	tr      *tracker.Tracker
	hazard  *hazard.Encryptor
	nowFunc func() time.Time
}

// New builds a Dispatcher. hz may be nil only if no Suspect verdict
// requiring encryption (i.e. all scanners are handler-managed) is
// ever expected; a nil hz handed a non-handler-managed Suspect
// verdict returns an error.
func New(cfg Config, tr *tracker.Tracker, hz *hazard.Encryptor) *Dispatcher {
	return &Dispatcher{cfg: cfg, tr: tr, hazard: hz, nowFunc: time.Now}
}

// Dispatch routes one terminal verdict according to its kind.
func (d *Dispatcher) Dispatch(v task.Verdict, destRoot string) error {
	switch v.Kind {
	case task.VerdictClean:
		return d.dispatchClean(v, destRoot)
	case task.VerdictSuspect:
		return d.dispatchSuspect(v)
	case task.VerdictTimeout, task.VerdictFailed:
		return d.dispatchFailed(v)
	case task.VerdictNotFound:
		return d.dispatchNotFound(v)
	default:
		return fmt.Errorf("dispatcher: unknown verdict kind %q", v.Kind)
	}
}

func (d *Dispatcher) dispatchClean(v task.Verdict, destRoot string) error {
	t := v.Task
	destPath := filepath.Join(destRoot, t.RelativeSubpath)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return d.fail(t, fmt.Errorf("dispatcher: mkdir %s: %w", filepath.Dir(destPath), err))
	}

	if err := moveFile(t.QuarantinePath, destPath); err != nil {
		return d.fail(t, fmt.Errorf("dispatcher: move %s -> %s: %w", t.QuarantinePath, destPath, err))
	}

	// Integrity-verify rule: the destination copy's hash MUST equal
	// the admission hash or the delivery is rejected.
	destHash, err := hasher.Hash(destPath, d.cfg.HashAlgo)
	if err != nil {
		os.Remove(destPath)
		return d.fail(t, fmt.Errorf("dispatcher: hash destination %s: %w", destPath, err))
	}
	if destHash != t.ContentHash {
		os.Remove(destPath)
		return d.fail(t, fmt.Errorf("dispatcher: destination hash mismatch for %s: got %s want %s", destPath, destHash, t.ContentHash))
	}

	if d.cfg.DeleteSourceAfterCopy {
		if err := os.Remove(t.SourcePath); err != nil && !os.IsNotExist(err) {
			return d.fail(t, fmt.Errorf("dispatcher: remove source %s: %w", t.SourcePath, err))
		}
	}

	return d.tr.Complete(t.ContentHash, tracker.StateSuccess)
}

func (d *Dispatcher) dispatchSuspect(v task.Verdict) error {
	t := v.Task

	if v.HandlerManaged {
		if _, err := os.Stat(t.QuarantinePath); err == nil {
			return fmt.Errorf("dispatcher: handler-managed suspect %s still present in quarantine", t.QuarantinePath)
		}
		return d.tr.Complete(t.ContentHash, tracker.StateSuspect)
	}

	if d.hazard == nil {
		return d.failKeepingQuarantine(t, fmt.Errorf("dispatcher: suspect verdict for %s but no hazard encryptor configured", t.QuarantinePath))
	}

	if _, err := d.hazard.Encrypt(t.QuarantinePath, t.RelativeSubpath, d.nowFunc()); err != nil {
		return d.failKeepingQuarantine(t, fmt.Errorf("dispatcher: hazard encrypt %s: %w", t.QuarantinePath, err))
	}
	os.Remove(t.QuarantinePath)

	sourceHash, err := hasher.Hash(t.SourcePath, d.cfg.HashAlgo)
	if err != nil {
		// Source may already be gone; nothing more to reconcile.
		return d.tr.Complete(t.ContentHash, tracker.StateSuspect)
	}

	if sourceHash == t.ContentHash {
		os.Remove(t.SourcePath)
	}
	// A hash mismatch means the source mutated mid-run: leave it in
	// place untouched. The mismatch is not reported to the caller.

	return d.tr.Complete(t.ContentHash, tracker.StateSuspect)
}

func (d *Dispatcher) dispatchFailed(v task.Verdict) error {
	t := v.Task
	os.Remove(t.QuarantinePath)
	return d.tr.Complete(t.ContentHash, tracker.StateFailure)
}

func (d *Dispatcher) dispatchNotFound(v task.Verdict) error {
	t := v.Task
	os.Remove(t.QuarantinePath)
	return d.tr.Complete(t.ContentHash, tracker.StateFailure)
}

func (d *Dispatcher) fail(t task.FileTask, dispatchErr error) error {
	os.Remove(t.QuarantinePath)
	return d.failKeepingQuarantine(t, dispatchErr)
}

// failKeepingQuarantine records a failure without touching the
// quarantined copy, for the cases where it must survive for forensic
// recovery: no hazard encryptor configured, or encryption itself
// failed.
func (d *Dispatcher) failKeepingQuarantine(t task.FileTask, dispatchErr error) error {
	if err := d.tr.Complete(t.ContentHash, tracker.StateFailure); err != nil {
		return fmt.Errorf("%w (also failed to update tracker: %v)", dispatchErr, err)
	}
	return dispatchErr
}

// moveFile renames src to dst, falling back to copy-then-remove when
// the quarantine and destination directories live on different
// filesystems (os.Rename across devices returns EXDEV).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	return os.Remove(src)
}
