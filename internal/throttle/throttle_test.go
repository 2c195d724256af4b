package throttle

import (
	"errors"
	"testing"

	"github.com/shuttlehq/shuttle/internal/tracker"
)

func TestCheckVolume_RunCountCeiling(t *testing.T) {
	th := New(Limits{MaxFileCountRun: 2}, nil)

	err := th.checkVolume(10, tracker.Totals{}, RunTotals{Count: 2})
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonRunCount {
		t.Fatalf("checkVolume = %v, want RunCount rejection", err)
	}
}

func TestCheckVolume_RunVolumeCeiling(t *testing.T) {
	th := New(Limits{MaxVolumeMBRun: 1}, nil)

	err := th.checkVolume(2*1024*1024, tracker.Totals{}, RunTotals{})
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonRunVolume {
		t.Fatalf("checkVolume = %v, want RunVolume rejection", err)
	}
}

func TestCheckVolume_DayCeilingsUseTrackerSnapshot(t *testing.T) {
	th := New(Limits{MaxFileCountDay: 5}, nil)

	day := tracker.Totals{SuccessCount: 3, SuspectCount: 2}
	err := th.checkVolume(10, day, RunTotals{})
	var rej *RejectError
	if !errors.As(err, &rej) || rej.Reason != ReasonDayCount {
		t.Fatalf("checkVolume = %v, want DayCount rejection (day already at 5)", err)
	}
}

func TestCheckVolume_ZeroCeilingMeansUnlimited(t *testing.T) {
	th := New(Limits{}, nil)

	if err := th.checkVolume(1<<40, tracker.Totals{SuccessCount: 1000}, RunTotals{Count: 1000}); err != nil {
		t.Fatalf("checkVolume with all-zero limits should never reject, got %v", err)
	}
}

func TestCheckVolume_WithinCeilingsAdmits(t *testing.T) {
	th := New(Limits{MaxFileCountRun: 10, MaxVolumeMBRun: 100, MaxFileCountDay: 50, MaxVolumeMBDay: 1000}, nil)

	day := tracker.Totals{SuccessCount: 10, SuccessBytes: 5 * 1024 * 1024}
	if err := th.checkVolume(1024, day, RunTotals{Count: 1, Bytes: 1024}); err != nil {
		t.Fatalf("expected admission within all ceilings, got %v", err)
	}
}

func TestMountPoint_ResolvesTempDir(t *testing.T) {
	dir := t.TempDir()
	mp, err := mountPoint(dir)
	if err != nil {
		t.Fatalf("mountPoint: %v", err)
	}
	if mp == "" {
		t.Fatal("expected a non-empty mount point")
	}
}

func TestFreeBytes_ReportsNonZeroOnRealFilesystem(t *testing.T) {
	dir := t.TempDir()
	free, err := freeBytes(dir)
	if err != nil {
		t.Fatalf("freeBytes: %v", err)
	}
	if free == 0 {
		t.Fatal("expected nonzero free space on the test filesystem")
	}
}
