package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shuttlehq/shuttle/internal/config"
	"github.com/shuttlehq/shuttle/internal/notify"
	"github.com/shuttlehq/shuttle/internal/scanner"
	"github.com/shuttlehq/shuttle/internal/shuttleerr"
	"github.com/shuttlehq/shuttle/internal/task"
)

func newTestSupervisor(cfg *config.Config) *Supervisor {
	log := zap.NewNop().Sugar()
	return New(cfg, log, nil, nil)
}

func TestNew_StartsInStartingState(t *testing.T) {
	s := newTestSupervisor(&config.Config{})
	if s.State() != StateStarting {
		t.Fatalf("expected initial state %q, got %q", StateStarting, s.State())
	}
}

func TestBuildScanner_AddsMembersForEnabledScanners(t *testing.T) {
	cfg := &config.Config{}
	cfg.Settings.OnDemandDefender = true
	cfg.Settings.DefenderHandlesSuspectFiles = true
	cfg.Settings.OnDemandClamAV = true

	s := newTestSupervisor(cfg)
	scn, err := s.buildScanner()
	if err != nil {
		t.Fatalf("buildScanner: %v", err)
	}

	composite, ok := scn.(*scanner.CompositeScanner)
	if !ok {
		t.Fatalf("expected *scanner.CompositeScanner, got %T", scn)
	}
	if len(composite.Members()) != 2 {
		t.Fatalf("expected 2 composite members, got %d", len(composite.Members()))
	}
}

func TestBuildScanner_NoneEnabledYieldsEmptyComposite(t *testing.T) {
	s := newTestSupervisor(&config.Config{})
	scn, err := s.buildScanner()
	if err != nil {
		t.Fatalf("buildScanner: %v", err)
	}
	composite, ok := scn.(*scanner.CompositeScanner)
	if !ok {
		t.Fatalf("expected *scanner.CompositeScanner, got %T", scn)
	}
	if len(composite.Members()) != 0 {
		t.Fatal("expected no members when no scanner is enabled")
	}
}

func TestCheckScannerGuard_UnqueryableVersionFails(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.yaml")
	if err := os.WriteFile(ledgerPath, []byte(""), 0o644); err != nil {
		t.Fatalf("write ledger: %v", err)
	}

	cfg := &config.Config{}
	cfg.Paths.Ledger = ledgerPath
	cfg.Settings.OnDemandDefender = true

	s := newTestSupervisor(cfg)
	scn, err := s.buildScanner()
	if err != nil {
		t.Fatalf("buildScanner: %v", err)
	}

	if err := s.checkScannerGuard(context.Background(), scn); err == nil {
		t.Fatal("expected error: querying a nonexistent scanner binary must fail closed")
	}
}

func TestCheckScannerGuard_MissingLedgerFails(t *testing.T) {
	cfg := &config.Config{}
	cfg.Paths.Ledger = filepath.Join(t.TempDir(), "does-not-exist.yaml")
	cfg.Settings.OnDemandDefender = true

	s := newTestSupervisor(cfg)
	scn, err := s.buildScanner()
	if err != nil {
		t.Fatalf("buildScanner: %v", err)
	}

	if err := s.checkScannerGuard(context.Background(), scn); err == nil {
		t.Fatal("expected error for a missing ledger file")
	}
}

func TestTally_CountsEachVerdictKind(t *testing.T) {
	s := newTestSupervisor(&config.Config{})
	summary := notify.RunSummary{}

	s.tally(&summary, task.Verdict{Kind: task.VerdictClean})
	s.tally(&summary, task.Verdict{Kind: task.VerdictSuspect})
	s.tally(&summary, task.Verdict{Kind: task.VerdictFailed})
	s.tally(&summary, task.Verdict{Kind: task.VerdictTimeout})

	if summary.AdmittedCount != 4 {
		t.Fatalf("expected admitted count 4, got %d", summary.AdmittedCount)
	}
	if summary.CleanCount != 1 || summary.SuspectCount != 1 || summary.FailureCount != 2 {
		t.Fatalf("unexpected tally: %+v", summary)
	}
}

func TestRun_ThrottleExhaustionReturnsKindThrottled(t *testing.T) {
	root := t.TempDir()
	sourceDir := filepath.Join(root, "source")
	destDir := filepath.Join(root, "destination")
	quarantineDir := filepath.Join(root, "quarantine")
	logDir := filepath.Join(root, "log")
	ledgerPath := filepath.Join(root, "ledger.yaml")
	lockPath := filepath.Join(root, "shuttle.lock")

	for _, dir := range []string{sourceDir, destDir, quarantineDir, logDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	if err := os.WriteFile(ledgerPath, []byte(""), 0o644); err != nil {
		t.Fatalf("write ledger: %v", err)
	}

	cfg := &config.Config{}
	cfg.Paths.Source = sourceDir
	cfg.Paths.Destination = destDir
	cfg.Paths.Quarantine = quarantineDir
	cfg.Paths.Log = logDir
	cfg.Paths.Ledger = ledgerPath
	cfg.Paths.Lock = lockPath
	// An impossibly large free-space floor guarantees the throttle's
	// space gate rejects the very first candidate, so the run drains
	// with zero files admitted and must report itself as
	// throttle-stopped rather than exiting clean.
	cfg.Settings.ThrottleFreeSpaceMB = 1 << 40

	s := New(cfg, zap.NewNop().Sugar(), nil, notify.NewWebhookNotifier(""))

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to return an error when the throttle stops the run early")
	}
	if !shuttleerr.Is(err, shuttleerr.KindThrottled) {
		t.Fatalf("expected KindThrottled, got %v", err)
	}
	if got := shuttleerr.ExitCodeFor(err); got != shuttleerr.ExitThrottled {
		t.Fatalf("exit code = %d, want %d (ExitThrottled)", got, shuttleerr.ExitThrottled)
	}
	if s.State() != StateDone {
		t.Fatalf("expected final state %q, got %q", StateDone, s.State())
	}
}

func TestRunSummary_SigningPayloadStableAcrossCalls(t *testing.T) {
	s := notify.RunSummary{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2026, 7, 31, 12, 5, 0, 0, time.UTC),
	}
	if string(s.SigningPayload()) != string(s.SigningPayload()) {
		t.Fatal("SigningPayload should be deterministic for the same value")
	}
}
