// Package orchestrator implements the Scan Orchestrator: a bounded
// worker pool that runs the Scanner Adapter over admitted FileTasks,
// enforcing per-scan timeout, retry, and a run-wide circuit breaker,
// and publishing each task's terminal verdict exactly once to a
// single-consumer channel.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/shuttlehq/shuttle/internal/scanner"
	"github.com/shuttlehq/shuttle/internal/task"
)

// Config holds the scanning settings.
type Config struct {
	Workers     int
	Timeout     time.Duration // 0 = unbounded
	RetryCount  int           // 0 = unbounded retries, and circuit breaker never trips
	RetryWait   time.Duration
}

// Orchestrator runs tasks through a Scanner with bounded concurrency.
type Orchestrator struct {
	cfg     Config
	sc      scanner.Scanner
	verdict chan task.Verdict

	mu       sync.Mutex
	tripped  bool
	timedOut map[string]struct{} // distinct quarantine paths that exhausted retries
}

// New builds an Orchestrator. verdictBuffer sizes the single-consumer
// output channel; callers should drain it promptly regardless.
func New(cfg Config, sc scanner.Scanner, verdictBuffer int) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		cfg:      cfg,
		sc:       sc,
		verdict:  make(chan task.Verdict, verdictBuffer),
		timedOut: make(map[string]struct{}),
	}
}

// Verdicts returns the channel the Dispatcher consumes. It is closed
// once Run returns.
func (o *Orchestrator) Verdicts() <-chan task.Verdict {
	return o.verdict
}

// Tripped reports whether the circuit breaker has fired. Once true,
// the Run Supervisor should stop admitting new files.
func (o *Orchestrator) Tripped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tripped
}

// Run drains tasks, dispatching each to the worker pool, and blocks
// until every task has produced a terminal verdict or ctx is
// cancelled. It closes the verdict channel before returning. Run
// itself never stops early on a circuit-breaker trip: already-dispatched
// tasks must still finish (or timeout) on their own; Run only stops
// pulling *new* tasks off the input channel.
func (o *Orchestrator) Run(ctx context.Context, tasks <-chan task.FileTask) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.cfg.Workers)

	for {
		select {
		case t, ok := <-tasks:
			if !ok {
				wg.Wait()
				close(o.verdict)
				return
			}
			if o.Tripped() {
				// Circuit breaker already open: don't start new scans,
				// but still account for the task so the Supervisor's
				// bookkeeping doesn't stall waiting on a verdict that
				// will never arrive.
				o.verdict <- task.Verdict{Task: t, Kind: task.VerdictFailed, Err: ErrCircuitOpen}
				continue
			}

			sem <- struct{}{}
			wg.Add(1)
			go func(t task.FileTask) {
				defer wg.Done()
				defer func() { <-sem }()
				o.scanOne(ctx, t)
			}(t)

		case <-ctx.Done():
			wg.Wait()
			close(o.verdict)
			return
		}
	}
}

// ErrCircuitOpen marks a task that was never scanned because the
// circuit breaker had already tripped by the time it was dequeued.
var ErrCircuitOpen = orchestratorErr("orchestrator: circuit breaker open, task not scanned")

type orchestratorErr string

func (e orchestratorErr) Error() string { return string(e) }

// scanOne runs the retry loop for a single task and publishes its
// terminal verdict exactly once.
func (o *Orchestrator) scanOne(ctx context.Context, t task.FileTask) {
	attempts := 0
	for {
		v := o.attempt(ctx, t)
		if v.Kind != task.VerdictTimeout {
			o.verdict <- v
			return
		}

		attempts++
		if o.cfg.RetryCount != 0 && attempts > o.cfg.RetryCount {
			o.onExhausted(t)
			o.verdict <- v
			return
		}

		select {
		case <-time.After(o.cfg.RetryWait):
		case <-ctx.Done():
			o.verdict <- task.Verdict{Task: t, Kind: task.VerdictTimeout, Err: ctx.Err()}
			return
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context, t task.FileTask) task.Verdict {
	scanCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.Timeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}
	return o.sc.Scan(scanCtx, t)
}

// onExhausted records a distinct timed-out file against the
// circuit-breaker counter and trips the breaker once it reaches
// RetryCount distinct files. RetryCount==0 means unbounded retries, so
// onExhausted is never reached in that configuration and the breaker
// never trips.
func (o *Orchestrator) onExhausted(t task.FileTask) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.timedOut[t.QuarantinePath] = struct{}{}
	if o.cfg.RetryCount > 0 && len(o.timedOut) >= o.cfg.RetryCount {
		o.tripped = true
	}
}
