// Package metrics provides Prometheus metrics for photoman.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentic-research/photoman/internal/logging"
)

var (
	// Remote service metrics
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoman_remote_requests_total",
			Help: "Total number of remote service requests",
		},
		[]string{"op", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photoman_remote_request_duration_seconds",
			Help:    "Remote service request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoman_content_bytes_downloaded_total",
			Help: "Total bytes written to the local cache from the remote service",
		},
	)

	// Cache metrics
	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoman_cache_hits_total",
			Help: "Requests answered without contacting the remote service",
		},
		[]string{"op"},
	)

	entries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photoman_entries",
			Help: "Number of entries in the tree cache",
		},
	)

	// Materialization metrics
	materializeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photoman_materialize_duration_seconds",
			Help:    "Time to fetch, normalize and commit one leaf",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"kind"},
	)

	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoman_extractions_total",
			Help: "Embedded preview extractions",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RecordRemoteRequest records one remote call.
func RecordRemoteRequest(op string, duration time.Duration, err error) {
	remoteRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
	remoteRequestsTotal.WithLabelValues(op, status(err)).Inc()
}

// RecordContentDownload adds bytes written to the cache.
func RecordContentDownload(bytes int64) {
	contentBytesDownloaded.Add(float64(bytes))
}

// RecordCacheHit records a request served from the cache.
func RecordCacheHit(op string) {
	cacheHitsTotal.WithLabelValues(op).Inc()
}

// SetEntries sets the current tree size.
func SetEntries(n int) {
	entries.Set(float64(n))
}

// RecordMaterialize records a completed materialization.
func RecordMaterialize(kind string, duration time.Duration) {
	materializeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordExtraction records one extractor run.
func RecordExtraction(err error) {
	extractionsTotal.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
