// Package task defines the immutable records that flow between
// Shuttle's pipeline stages: the FileTask created at quarantine
// admission and the Verdict produced by the orchestrator.
package task

import "time"

// FileTask is the immutable record created at quarantine admission and
// consumed by the orchestrator and dispatcher. Nothing mutates it in
// place; components that need a different value build a new FileTask.
type FileTask struct {
	SourcePath      string
	QuarantinePath  string
	DestinationPath string
	ContentHash     string
	SizeBytes       int64
	RelativeSubpath string
	AdmittedAt      time.Time
}

// Outcome is the terminal state of a FileTask in the Daily Processing
// Tracker.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSuspect Outcome = "suspect"
)

// VerdictKind is the tagged scan result a Scanner produces.
type VerdictKind string

const (
	VerdictClean    VerdictKind = "clean"
	VerdictSuspect  VerdictKind = "suspect"
	VerdictNotFound VerdictKind = "not_found"
	VerdictTimeout  VerdictKind = "timeout"
	VerdictFailed   VerdictKind = "failed"
)

// Verdict carries the originating FileTask plus the scan result. For
// VerdictSuspect, HandlerManaged indicates whether the scanner itself
// is expected to have removed/quarantined the file out of band.
type Verdict struct {
	Task           FileTask
	Kind           VerdictKind
	HandlerManaged bool
	Err            error
}
