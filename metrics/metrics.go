// Package metrics exposes Prometheus instrumentation for analysis runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DetectorFits counts detector fits by detector name and outcome.
	DetectorFits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regime_detector_fits_total",
		Help: "Regime detector fits by detector and outcome.",
	}, []string{"detector", "outcome"})

	// FitSeconds observes wall-clock fit duration per detector.
	FitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "regime_detector_fit_seconds",
		Help:    "Detector fit duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"detector"})

	// AnalysisRuns counts full pipeline runs by outcome.
	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_runs_total",
		Help: "Complete analysis pipeline runs by outcome.",
	}, []string{"outcome"})
)

// StartMetricsServer serves /metrics on addr in the background.
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
