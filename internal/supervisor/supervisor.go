// Package supervisor implements the Run Supervisor: it
// owns every other component's lifetime, drives the
// Starting→Scanning→Draining→Reporting→Done state machine, and is the
// only place that acquires and releases the process lock.
package supervisor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shuttlehq/shuttle/internal/config"
	"github.com/shuttlehq/shuttle/internal/dispatcher"
	"github.com/shuttlehq/shuttle/internal/evidence"
	"github.com/shuttlehq/shuttle/internal/hasher"
	"github.com/shuttlehq/shuttle/internal/hazard"
	"github.com/shuttlehq/shuttle/internal/ledger"
	"github.com/shuttlehq/shuttle/internal/lock"
	"github.com/shuttlehq/shuttle/internal/metrics"
	"github.com/shuttlehq/shuttle/internal/notify"
	"github.com/shuttlehq/shuttle/internal/orchestrator"
	"github.com/shuttlehq/shuttle/internal/quarantine"
	"github.com/shuttlehq/shuttle/internal/scanner"
	"github.com/shuttlehq/shuttle/internal/shuttleerr"
	"github.com/shuttlehq/shuttle/internal/task"
	"github.com/shuttlehq/shuttle/internal/throttle"
	"github.com/shuttlehq/shuttle/internal/tracker"
)

// State is a position in the Run Supervisor's state machine.
type State string

const (
	StateStarting  State = "starting"
	StateScanning  State = "scanning"
	StateDraining  State = "draining"
	StateReporting State = "reporting"
	StateDone      State = "done"
)

// RunContext is the immutable, process-lifetime configuration and
// identity bundle every component reads from.
type RunContext struct {
	RunID     string
	StartedAt time.Time
	Config    *config.Config
}

// Supervisor drives one complete run end to end.
type Supervisor struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	metric *metrics.Metrics
	notif  notify.Notifier

	state State
}

// New builds a Supervisor ready to run once.
func New(cfg *config.Config, log *zap.SugaredLogger, m *metrics.Metrics, n notify.Notifier) *Supervisor {
	return &Supervisor{cfg: cfg, log: log, metric: m, notif: n, state: StateStarting}
}

// State reports the Supervisor's current position in its state
// machine, for the CLI's status reporting.
func (s *Supervisor) State() State { return s.state }

// Run executes one complete pipeline pass: lock acquisition, Scanner
// Guard validation, source tree walk through Throttler/Stager,
// Orchestrator scanning, Dispatcher routing, and end-of-run cleanup
// and reporting. It returns a *shuttleerr.Error whose Kind maps to the
// process exit code the CLI should use.
func (s *Supervisor) Run(ctx context.Context) error {
	rc := RunContext{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Config:    s.cfg,
	}
	s.log.Infow("run starting", "run_id", rc.RunID)

	l, err := lock.Acquire(s.cfg.Paths.Lock)
	if err != nil {
		if err == lock.ErrHeld {
			return shuttleerr.Wrap(shuttleerr.KindPreflight, "another instance is already running", err)
		}
		return shuttleerr.Wrap(shuttleerr.KindPreflight, "failed to acquire lock", err)
	}
	defer l.Release()

	scn, err := s.buildScanner()
	if err != nil {
		return shuttleerr.Wrap(shuttleerr.KindPreflight, "failed to build scanner", err)
	}

	if err := s.checkScannerGuard(ctx, scn); err != nil {
		return shuttleerr.Wrap(shuttleerr.KindPreflight, "scanner guard check failed", err)
	}

	tr, err := tracker.Open(s.cfg.Paths.Log, time.Now())
	if err != nil {
		return shuttleerr.Wrap(shuttleerr.KindPreflight, "failed to open tracker", err)
	}

	algo := hasher.Algorithm(s.cfg.Settings.HashAlgorithm)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warnw("failed to start fsnotify watcher, stability checks fall back to full-interval polling", "error", err)
		watcher = nil
	} else {
		defer watcher.Close()
	}

	stager := quarantine.New(
		s.cfg.Paths.Quarantine,
		time.Duration(s.cfg.Settings.StabilityCheckIntervalSeconds)*time.Second,
		algo,
		tr,
		watcher,
	)

	thr := throttle.New(throttle.Limits{
		MinFreeMB:       s.cfg.Settings.ThrottleFreeSpaceMB,
		MaxFileCountRun: s.cfg.Settings.ThrottleMaxFileCountPerRun,
		MaxVolumeMBRun:  s.cfg.Settings.ThrottleMaxVolumeMBPerRun,
		MaxFileCountDay: s.cfg.Settings.ThrottleMaxFileCountPerDay,
		MaxVolumeMBDay:  s.cfg.Settings.ThrottleMaxVolumeMBPerDay,
	}, []string{s.cfg.Paths.Quarantine, s.cfg.Paths.Destination, s.cfg.Paths.HazardArchive})

	var hz *hazard.Encryptor
	if s.cfg.Paths.HazardArchive != "" && s.cfg.Paths.HazardEncryptionKey != "" {
		hz, err = hazard.New(s.cfg.Paths.HazardArchive, s.cfg.Paths.HazardEncryptionKey)
		if err != nil {
			return shuttleerr.Wrap(shuttleerr.KindPreflight, "failed to build hazard encryptor", err)
		}
	}

	disp := dispatcher.New(dispatcher.Config{
		DeleteSourceAfterCopy: s.cfg.Settings.DeleteSourceFilesAfterCopying,
		HashAlgo:              algo,
	}, tr, hz)

	orch := orchestrator.New(orchestrator.Config{
		Workers:    s.cfg.Settings.MaxScanThreads,
		Timeout:    time.Duration(s.cfg.Scanning.MalwareScanTimeoutSeconds) * time.Second,
		RetryCount: s.cfg.Scanning.MalwareScanRetryCount,
		RetryWait:  time.Duration(s.cfg.Scanning.MalwareScanRetryWaitSeconds) * time.Second,
	}, scn, 64)

	s.state = StateScanning

	summary := notify.RunSummary{RunID: rc.RunID, StartedAt: rc.StartedAt}

	taskCh := make(chan task.FileTask, 64)
	var run throttle.RunTotals
	var throttleStopped bool

	walkDone := make(chan error, 1)
	go func() {
		walkDone <- s.admitLoop(ctx, stager, thr, tr, taskCh, &run, orch, &throttleStopped, watcher)
	}()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for v := range orch.Verdicts() {
			s.tally(&summary, v)
			if err := disp.Dispatch(v, s.cfg.Paths.Destination); err != nil {
				s.log.Warnw("dispatch failed", "path", v.Task.QuarantinePath, "error", err)
			} else if hz != nil && v.Kind == task.VerdictSuspect && !v.HandlerManaged {
				s.notif.NotifyHazard(ctx, notify.HazardEvent{
					RunID:       rc.RunID,
					SourcePath:  v.Task.SourcePath,
					ContentHash: v.Task.ContentHash,
				})
			}
			if s.metric != nil {
				s.metric.QuarantineBacklog.Set(float64(len(taskCh)))
			}
		}
	}()

	orch.Run(ctx, taskCh)
	walkErr := <-walkDone
	<-dispatchDone

	s.state = StateDraining
	if walkErr != nil {
		s.log.Warnw("source walk ended early", "error", walkErr)
	}

	if err := os.RemoveAll(s.cfg.Paths.Quarantine); err != nil {
		s.log.Warnw("failed to clear quarantine tree", "error", err)
	}
	if err := os.MkdirAll(s.cfg.Paths.Quarantine, 0o750); err != nil {
		s.log.Warnw("failed to recreate quarantine root", "error", err)
	}
	if err := tr.Flush(); err != nil {
		s.log.Warnw("failed to flush tracker", "error", err)
	}

	s.state = StateReporting
	summary.EndedAt = time.Now()
	summary.ThrottleStopped = throttleStopped
	summary.CircuitTripped = orch.Tripped()
	if s.metric != nil {
		s.metric.RunDurationSeconds.Set(summary.EndedAt.Sub(summary.StartedAt).Seconds())
		if summary.CircuitTripped {
			s.metric.CircuitBreakerTripsTotal.Inc()
		}
	}
	if s.cfg.Paths.SigningKey != "" {
		key, _, err := evidence.LoadOrCreateSigningKey(s.cfg.Paths.SigningKey)
		if err != nil {
			s.log.Warnw("failed to load signing key, summary will be unsigned", "error", err)
		} else {
			summary.Signature = evidence.Sign(key, summary.SigningPayload())
		}
	}
	if err := s.notif.NotifySummary(ctx, summary); err != nil {
		s.log.Warnw("failed to notify summary", "error", err)
	}

	s.state = StateDone
	s.log.Infow("run done", "run_id", rc.RunID, "admitted", summary.AdmittedCount)

	if orch.Tripped() {
		return shuttleerr.New(shuttleerr.KindCircuitBreaker, "circuit breaker tripped during run")
	}
	if throttleStopped {
		return shuttleerr.New(shuttleerr.KindThrottled, "run stopped early by throttle")
	}
	return nil
}

func (s *Supervisor) tally(summary *notify.RunSummary, v task.Verdict) {
	summary.AdmittedCount++
	switch v.Kind {
	case task.VerdictClean:
		summary.CleanCount++
	case task.VerdictSuspect:
		summary.SuspectCount++
	default:
		summary.FailureCount++
	}
	if s.metric != nil {
		s.metric.VerdictsTotal.WithLabelValues(string(v.Kind)).Inc()
	}
}

// admitLoop walks the source tree, consulting the Throttler then the
// Stager for each candidate, and feeds admitted tasks to the
// orchestrator. It stops admitting on throttle rejection or
// circuit-breaker trip, but lets already-fed tasks drain.
func (s *Supervisor) admitLoop(
	ctx context.Context,
	stager *quarantine.Stager,
	thr *throttle.Throttler,
	tr *tracker.Tracker,
	taskCh chan<- task.FileTask,
	run *throttle.RunTotals,
	orch *orchestrator.Orchestrator,
	throttleStopped *bool,
	watcher *fsnotify.Watcher,
) error {
	defer close(taskCh)

	sourceRoot := s.cfg.Paths.Source
	return filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Watch every directory as it's discovered so the Stager's
			// stability check can short-circuit on a mid-wait write
			// anywhere under the source tree, not just its root.
			if watcher != nil {
				if err := watcher.Add(path); err != nil {
					s.log.Warnw("failed to watch directory", "path", path, "error", err)
				}
			}
			return nil
		}
		if orch.Tripped() {
			return filepath.SkipAll
		}

		rel, err := filepath.Rel(sourceRoot, path)
		if err != nil {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.log.Warnw("stat candidate failed", "path", path, "error", err)
			return nil
		}

		if rejErr := thr.Admit(info.Size(), tr.Snapshot(), *run); rejErr != nil {
			s.log.Warnw("throttle rejected candidate", "path", path, "error", rejErr)
			*throttleStopped = true
			if s.metric != nil {
				reason := "unknown"
				if re, ok := rejErr.(*throttle.RejectError); ok {
					reason = string(re.Reason)
				}
				s.metric.ThrottleRejectionsTotal.WithLabelValues(reason).Inc()
			}
			return filepath.SkipAll
		}

		ft, err := stager.Stage(ctx, path, rel)
		if err != nil {
			s.log.Warnw("stage failed", "path", path, "error", err)
			return nil
		}

		run.Count++
		run.Bytes += ft.SizeBytes
		if s.metric != nil {
			s.metric.FilesAdmittedTotal.Inc()
		}

		select {
		case taskCh <- ft:
		case <-ctx.Done():
			return ctx.Err()
		}
		if s.metric != nil {
			s.metric.QuarantineBacklog.Set(float64(len(taskCh)))
		}
		return nil
	})
}

func (s *Supervisor) buildScanner() (scanner.Scanner, error) {
	composite := scanner.NewCompositeScanner()
	if s.cfg.Settings.OnDemandDefender {
		composite.Add(scanner.NewEnterpriseScanner("/opt/microsoft/mdatp/sbin/mdatp"), s.cfg.Settings.DefenderHandlesSuspectFiles)
	}
	if s.cfg.Settings.OnDemandClamAV {
		composite.Add(scanner.NewClamScanner("/usr/bin/clamdscan"), false)
	}
	return composite, nil
}

// checkScannerGuard queries every enabled scanner's version and
// refuses to run if any is unattested.
func (s *Supervisor) checkScannerGuard(ctx context.Context, scn scanner.Scanner) error {
	led, err := ledger.Load(s.cfg.Paths.Ledger)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	composite, ok := scn.(*scanner.CompositeScanner)
	if !ok {
		return nil
	}

	for _, member := range composite.Members() {
		version, err := member.Version(ctx)
		if err != nil {
			return fmt.Errorf("query %s version: %w", member.Name(), err)
		}
		if !led.IsAttested(member.Name(), version) {
			return fmt.Errorf("scanner %s version %s is not attested pass in the ledger", member.Name(), version)
		}
	}
	return nil
}
