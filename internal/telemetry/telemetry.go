// Package telemetry exposes the coordinator's dispatch/lease counters and
// a Prometheus scrape endpoint. It is additive instrumentation only: no
// component may let a metrics call block or fail a dispatch decision (spec
// 5's "no blocking I/O inside the critical section" still holds, since
// Prometheus counter/histogram updates are in-memory and non-blocking).
package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics bundles the coordinator's instrument set. The zero value is not
// usable; construct with New.
type Metrics struct {
	registry *prometheus.Registry

	TasksDispatched   *prometheus.CounterVec
	TasksRedispatched *prometheus.CounterVec
	LeasesReclaimed   *prometheus.CounterVec
	JobPhase          prometheus.Gauge
	SweepDuration     prometheus.Histogram
}

// New builds a fresh, independently-registered Metrics instance so tests
// can construct as many coordinators as they like without hitting
// "duplicate metrics collector registration" panics from the global
// default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		registry: reg,
		TasksDispatched: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "mrlease_tasks_dispatched_total",
			Help: "Fresh task dispatches, by phase.",
		}, []string{"phase"}),
		TasksRedispatched: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "mrlease_tasks_redispatched_total",
			Help: "Re-dispatches of a previously reclaimed task, by phase.",
		}, []string{"phase"}),
		LeasesReclaimed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "mrlease_leases_reclaimed_total",
			Help: "Leases reclaimed by the sweeper, by phase.",
		}, []string{"phase"}),
		JobPhase: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "mrlease_job_phase",
			Help: "Current job phase: 0=map, 1=reduce, 2=finished.",
		}),
		SweepDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "mrlease_sweep_duration_seconds",
			Help:    "Wall-clock time spent in a single lease sweep pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Serve starts an HTTP server exposing /metrics and blocks until ctx is
// canceled. Intended to be run in its own goroutine by the coordinator
// driver when --metrics-addr is non-empty.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Debug().Msg("shutting down metrics endpoint")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
