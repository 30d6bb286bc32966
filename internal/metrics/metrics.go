// Package metrics defines the Prometheus collectors of the ingestion and
// snapshot paths and the /metrics endpoint that exposes them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "objidx"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CommittedCheckpoints prometheus.Counter
	CommitFailures       *prometheus.CounterVec
	CommitRetries        prometheus.Counter
	CommitDuration       prometheus.Histogram
	LatestCheckpoint     prometheus.Gauge
	SnapshotFrontier     prometheus.Gauge
	SnapshotUpdates      prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommittedCheckpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_checkpoints_total",
			Help:      "checkpoints committed by the ingestion loop",
		}),
		CommitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_failures_total",
			Help:      "failed checkpoint batch commits by error kind",
		}, []string{"kind"}),
		CommitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_retries_total",
			Help:      "checkpoint batch commits retried after a transient error",
		}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "time to commit one checkpoint batch",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		LatestCheckpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_checkpoint",
			Help:      "highest committed checkpoint sequence number",
		}),
		SnapshotFrontier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_frontier",
			Help:      "highest checkpoint folded into the object snapshot",
		}),
		SnapshotUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_updates_total",
			Help:      "object snapshot windows applied",
		}),
	}
	reg.MustRegister(
		m.CommittedCheckpoints,
		m.CommitFailures,
		m.CommitRetries,
		m.CommitDuration,
		m.LatestCheckpoint,
		m.SnapshotFrontier,
		m.SnapshotUpdates,
	)
	return m
}

// ObserveCommit records one successful batch ending at checkpoint.
func (m *Metrics) ObserveCommit(checkpoint uint64, took time.Duration) {
	if m == nil {
		return
	}
	m.CommittedCheckpoints.Inc()
	m.LatestCheckpoint.Set(float64(checkpoint))
	m.CommitDuration.Observe(took.Seconds())
}

// ObserveCommitFailure counts a failed batch under the store error kind.
func (m *Metrics) ObserveCommitFailure(kind string) {
	if m == nil {
		return
	}
	m.CommitFailures.WithLabelValues(kind).Inc()
}

// ObserveRetry counts a retried batch.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.CommitRetries.Inc()
}

// ObserveSnapshot records a snapshot frontier after an applied window.
func (m *Metrics) ObserveSnapshot(frontier uint64) {
	if m == nil {
		return
	}
	m.SnapshotUpdates.Inc()
	m.SnapshotFrontier.Set(float64(frontier))
}

// Serve exposes reg on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.SugaredLogger) error {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Infof("Prometheus metrics exposed on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
