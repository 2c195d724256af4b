// Package metrics exposes Shuttle's run counters as Prometheus
// metrics on a loopback-only HTTP endpoint, following the same
// dedicated-registry pattern used elsewhere in this codebase's
// lineage so Shuttle's metrics never collide with another
// instrumented library sharing the process.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Shuttle's Prometheus descriptors.
type Metrics struct {
	registry *prometheus.Registry

	// FilesAdmittedTotal counts files accepted into quarantine.
	FilesAdmittedTotal prometheus.Counter

	// VerdictsTotal counts terminal verdicts, by kind (clean, suspect,
	// not_found, timeout, failed).
	VerdictsTotal *prometheus.CounterVec

	// ThrottleRejectionsTotal counts files rejected at the throttle
	// gate, by reason (space, run_count, run_volume, day_count,
	// day_volume).
	ThrottleRejectionsTotal *prometheus.CounterVec

	// CircuitBreakerTripsTotal counts orchestrator circuit-breaker trips.
	CircuitBreakerTripsTotal prometheus.Counter

	// QuarantineBacklog is the current number of tasks awaiting scan.
	QuarantineBacklog prometheus.Gauge

	// RunDurationSeconds is set at end of run.
	RunDurationSeconds prometheus.Gauge
}

// New creates and registers Shuttle's metric descriptors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		FilesAdmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shuttle",
			Subsystem: "quarantine",
			Name:      "admitted_total",
			Help:      "Total files admitted into quarantine this process lifetime.",
		}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuttle",
			Subsystem: "dispatch",
			Name:      "verdicts_total",
			Help:      "Total terminal verdicts, by kind.",
		}, []string{"kind"}),
		ThrottleRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shuttle",
			Subsystem: "throttle",
			Name:      "rejections_total",
			Help:      "Total files rejected at the throttle gate, by reason.",
		}, []string{"reason"}),
		CircuitBreakerTripsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shuttle",
			Subsystem: "orchestrator",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total times the scan orchestrator's circuit breaker tripped.",
		}),
		QuarantineBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shuttle",
			Subsystem: "quarantine",
			Name:      "backlog",
			Help:      "Number of quarantined tasks awaiting a scan verdict.",
		}),
		RunDurationSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shuttle",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of the most recently completed run.",
		}),
	}

	reg.MustRegister(
		m.FilesAdmittedTotal,
		m.VerdictsTotal,
		m.ThrottleRejectionsTotal,
		m.CircuitBreakerTripsTotal,
		m.QuarantineBacklog,
		m.RunDurationSeconds,
	)

	return m
}

// Serve starts the metrics HTTP server on addr, blocking until ctx is
// cancelled or the server fails. addr must name a loopback host
// ("localhost" or a loopback IP); any other address is refused. A
// caller that doesn't want a metrics endpoint simply never calls Serve.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("metrics: parse address %s: %w", addr, err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("metrics: refusing non-loopback address %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}
