// Package tracker implements the Daily Processing Tracker: the single
// source of truth for per-day file counts and volume totals,
// exclusively owned by the Run Supervisor and serialized under one
// mutex. Every mutation is flushed to a day-keyed YAML file using a
// write-to-temp-then-rename, the same atomic persistence idiom this
// codebase uses elsewhere for durable state.
package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// State is a per-file state in the Absent → Pending → terminal machine.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateSuspect State = "suspect"
)

// record is one tracked file's lifecycle entry.
type record struct {
	SourcePath string    `yaml:"source_path"`
	SizeBytes  int64     `yaml:"size_bytes"`
	State      State     `yaml:"state"`
	AdmittedAt time.Time `yaml:"admitted_at"`
	CompletedAt time.Time `yaml:"completed_at,omitempty"`
}

// Totals is the immutable aggregate handed out by Snapshot: the day's
// running counts plus volume, broken out by terminal state.
type Totals struct {
	Date          string `yaml:"date"`
	PendingCount  int    `yaml:"pending_count"`
	PendingBytes  int64  `yaml:"pending_bytes"`
	SuccessCount  int    `yaml:"success_count"`
	SuccessBytes  int64  `yaml:"success_bytes"`
	FailureCount  int    `yaml:"failure_count"`
	FailureBytes  int64  `yaml:"failure_bytes"`
	SuspectCount  int    `yaml:"suspect_count"`
	SuspectBytes  int64  `yaml:"suspect_bytes"`
}

// TotalCount is every file admitted today regardless of terminal state.
func (t Totals) TotalCount() int {
	return t.PendingCount + t.SuccessCount + t.FailureCount + t.SuspectCount
}

// TotalBytes is every byte admitted today regardless of terminal state.
func (t Totals) TotalBytes() int64 {
	return t.PendingBytes + t.SuccessBytes + t.FailureBytes + t.SuspectBytes
}

// onDiskState is the YAML document written for a single day.
type onDiskState struct {
	Date    string            `yaml:"date"`
	Records map[string]record `yaml:"records"`
}

// Tracker is the Daily Processing Tracker. All exported methods are
// safe for concurrent use: every operation is serialized under a
// single mutex, which Tracker provides internally so callers never
// need their own locking.
type Tracker struct {
	mu      sync.Mutex
	logDir  string
	date    string
	records map[string]record
}

// Open loads (or creates) today's tracker file under logDir, named
// tracker-YYYY-MM-DD.yaml. now is the run's reference time; tests pass
// a fixed value so day rollover is deterministic.
func Open(logDir string, now time.Time) (*Tracker, error) {
	date := now.Format("2006-01-02")
	tr := &Tracker{
		logDir:  logDir,
		date:    date,
		records: make(map[string]record),
	}

	path := tr.path()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tr, nil
		}
		return nil, fmt.Errorf("tracker: read %s: %w", path, err)
	}

	var on onDiskState
	if err := yaml.Unmarshal(data, &on); err != nil {
		return nil, fmt.Errorf("tracker: parse %s: %w", path, err)
	}
	if on.Records != nil {
		tr.records = on.Records
	}

	return tr, nil
}

func (t *Tracker) path() string {
	return filepath.Join(t.logDir, fmt.Sprintf("tracker-%s.yaml", t.date))
}

// Admit records hash as Pending with the given source path and size,
// then flushes. hash is the content-addressed key: admitting the same
// hash twice updates its source_path/admitted_at but does not double
// count the pending aggregates, since the prior Pending record is
// overwritten rather than added.
func (t *Tracker) Admit(hash, sourcePath string, size int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[hash] = record{
		SourcePath: sourcePath,
		SizeBytes:  size,
		State:      StatePending,
		AdmittedAt: now(),
	}
	return t.flushLocked()
}

// Complete transitions hash from Pending to a terminal state, then
// flushes. Completing a hash that was never admitted is still
// recorded, so a crash-recovery re-scan can't lose the outcome.
func (t *Tracker) Complete(hash string, state State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[hash]
	if !ok {
		rec = record{State: StatePending, AdmittedAt: now()}
	}
	rec.State = state
	rec.CompletedAt = now()
	t.records[hash] = rec

	return t.flushLocked()
}

// Snapshot returns an immutable copy of today's aggregates, for
// throttle checks and end-of-run reporting.
func (t *Tracker) Snapshot() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()

	totals := Totals{Date: t.date}
	for _, rec := range t.records {
		switch rec.State {
		case StatePending:
			totals.PendingCount++
			totals.PendingBytes += rec.SizeBytes
		case StateSuccess:
			totals.SuccessCount++
			totals.SuccessBytes += rec.SizeBytes
		case StateFailure:
			totals.FailureCount++
			totals.FailureBytes += rec.SizeBytes
		case StateSuspect:
			totals.SuspectCount++
			totals.SuspectBytes += rec.SizeBytes
		}
	}
	return totals
}

// Flush writes the current state to durable storage.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

// Shutdown converts any remaining Pending records to Failure and
// flushes, for an unclean teardown where no terminal verdict will ever
// arrive for an admitted file.
func (t *Tracker) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for hash, rec := range t.records {
		if rec.State == StatePending {
			rec.State = StateFailure
			rec.CompletedAt = now()
			t.records[hash] = rec
		}
	}
	return t.flushLocked()
}

func (t *Tracker) flushLocked() error {
	if err := os.MkdirAll(t.logDir, 0o750); err != nil {
		return fmt.Errorf("tracker: mkdir %s: %w", t.logDir, err)
	}

	on := onDiskState{Date: t.date, Records: t.records}
	data, err := yaml.Marshal(on)
	if err != nil {
		return fmt.Errorf("tracker: marshal: %w", err)
	}

	path := t.path()
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return fmt.Errorf("tracker: write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tracker: rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

// now is a var, not a direct time.Now() call, so tests can pin it.
var now = time.Now
