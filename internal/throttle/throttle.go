// Package throttle implements the two admission gates a candidate
// file must pass before entering quarantine: a filesystem space gate
// and a tracker-backed volume gate. Either gate rejecting a candidate
// leaves the source file untouched and signals the Run Supervisor to
// stop admitting new files and begin draining.
package throttle

import (
	"fmt"

	"github.com/shuttlehq/shuttle/internal/tracker"
)

// Limits holds the configured ceilings from the settings block.
// A zero ceiling means unlimited.
type Limits struct {
	MinFreeMB        int64
	MaxFileCountRun  int
	MaxVolumeMBRun   int64
	MaxFileCountDay  int
	MaxVolumeMBDay   int64
}

// RejectReason identifies which gate rejected a candidate, for
// metrics and logging.
type RejectReason string

const (
	ReasonSpace       RejectReason = "space"
	ReasonRunCount    RejectReason = "run_count"
	ReasonRunVolume   RejectReason = "run_volume"
	ReasonDayCount    RejectReason = "day_count"
	ReasonDayVolume   RejectReason = "day_volume"
)

// RejectError reports which gate rejected a candidate and why.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("throttle: rejected (%s): %s", e.Reason, e.Detail)
}

// RunTotals is this run's own admitted (count, bytes) so far, tracked
// separately from the Tracker's day-to-date totals since a run never
// spans a day boundary by assumption but the two ceilings are
// independent.
type RunTotals struct {
	Count int
	Bytes int64
}

// Throttler evaluates the space and volume gates for each candidate
// file before quarantine admission.
type Throttler struct {
	limits  Limits
	targets []string // quarantine, destination, hazard archive directories
}

// New builds a Throttler that checks free space across targets (the
// directories that will ultimately receive an admitted file) and
// enforces limits against the tracker's snapshots.
func New(limits Limits, targets []string) *Throttler {
	return &Throttler{limits: limits, targets: targets}
}

// Admit evaluates both gates for a candidate of size bytes, given the
// tracker's current day snapshot and this run's totals so far. It
// returns nil if the file may be admitted.
func (th *Throttler) Admit(size int64, day tracker.Totals, run RunTotals) error {
	if err := th.checkSpace(size); err != nil {
		return err
	}
	return th.checkVolume(size, day, run)
}

func (th *Throttler) checkSpace(size int64) error {
	minFreeBytes := th.limits.MinFreeMB * 1024 * 1024

	seen := make(map[string]bool)
	for _, dir := range th.targets {
		if dir == "" {
			continue
		}
		mp, err := mountPoint(dir)
		if err != nil {
			return fmt.Errorf("throttle: resolve mount for %s: %w", dir, err)
		}
		if seen[mp] {
			continue
		}
		seen[mp] = true

		free, err := freeBytes(mp)
		if err != nil {
			return fmt.Errorf("throttle: free space for %s: %w", mp, err)
		}

		if int64(free)-size < minFreeBytes {
			return &RejectError{
				Reason: ReasonSpace,
				Detail: fmt.Sprintf("mount %s: free=%d size=%d min_free=%d", mp, free, size, minFreeBytes),
			}
		}
	}
	return nil
}

func (th *Throttler) checkVolume(size int64, day tracker.Totals, run RunTotals) error {
	sizeMB := size

	if th.limits.MaxFileCountRun > 0 && run.Count+1 > th.limits.MaxFileCountRun {
		return &RejectError{Reason: ReasonRunCount, Detail: fmt.Sprintf("run count %d would exceed %d", run.Count+1, th.limits.MaxFileCountRun)}
	}
	if th.limits.MaxVolumeMBRun > 0 {
		projected := run.Bytes + sizeMB
		if projected > th.limits.MaxVolumeMBRun*1024*1024 {
			return &RejectError{Reason: ReasonRunVolume, Detail: fmt.Sprintf("run volume %d bytes would exceed %d MB", projected, th.limits.MaxVolumeMBRun)}
		}
	}

	dayCount := day.TotalCount()
	dayBytes := day.TotalBytes()

	if th.limits.MaxFileCountDay > 0 && dayCount+1 > th.limits.MaxFileCountDay {
		return &RejectError{Reason: ReasonDayCount, Detail: fmt.Sprintf("day count %d would exceed %d", dayCount+1, th.limits.MaxFileCountDay)}
	}
	if th.limits.MaxVolumeMBDay > 0 {
		projected := dayBytes + sizeMB
		if projected > th.limits.MaxVolumeMBDay*1024*1024 {
			return &RejectError{Reason: ReasonDayVolume, Detail: fmt.Sprintf("day volume %d bytes would exceed %d MB", projected, th.limits.MaxVolumeMBDay)}
		}
	}

	return nil
}
