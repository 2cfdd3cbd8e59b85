// Package metrics exposes Prometheus counters and histograms for the relay
// pipeline, plus a small HTTP listener serving /metrics and /healthz.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidrelay_pipeline_runs_total",
		Help: "Pipeline runs by terminal outcome",
	}, []string{"outcome"})

	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidrelay_backend_requests_total",
		Help: "Resolution backend calls by result (success, backend_transport, backend_application)",
	}, []string{"result"})

	RedirectResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidrelay_redirect_resolutions_total",
		Help: "Redirect resolution attempts by result (changed, unchanged, failed)",
	}, []string{"result"})

	PlaceholderCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidrelay_placeholder_cleanup_failures_total",
		Help: "Placeholder messages that could not be deleted",
	})

	InFlightRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidrelay_inflight_runs",
		Help: "Pipeline runs currently executing",
	})

	BackendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidrelay_backend_latency_seconds",
		Help:    "Resolution backend request latency in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45},
	})

	UploadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidrelay_upload_latency_seconds",
		Help:    "Video upload latency in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 90, 120},
	})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidrelay_pipeline_duration_seconds",
		Help:    "End-to-end pipeline run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// ObserveSince records the time elapsed since start in obs.
func ObserveSince(obs prometheus.Observer, start time.Time) {
	obs.Observe(time.Since(start).Seconds())
}

// Handler serves Prometheus metrics on /metrics and a liveness probe on /healthz.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics listener until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}()

	logger.Info("metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
