package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NormalizeOutcomes counts pipeline runs by outcome:
	// ok, timeout, failure, rejected, stale.
	NormalizeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geomask",
		Subsystem: "normalize",
		Name:      "outcomes_total",
		Help:      "Image normalization runs by outcome",
	}, []string{"outcome"})

	NormalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geomask",
		Subsystem: "normalize",
		Name:      "duration_seconds",
		Help:      "Decode, resize and encode latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	MasksComposited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geomask",
		Subsystem: "mask",
		Name:      "composited_total",
		Help:      "Mask compositions by result",
	}, []string{"result"})

	StrokesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geomask",
		Subsystem: "brush",
		Name:      "strokes_total",
		Help:      "Finalized brush strokes by mode",
	}, []string{"mode"})

	TransformErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geomask",
		Subsystem: "geocode",
		Name:      "transform_errors_total",
		Help:      "Geocoding transform invocations rejected as degenerate",
	})

	CollaboratorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geomask",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Requests to external collaborators",
	}, []string{"collaborator", "status"})
)

// WriteTextfile dumps the default registry in text exposition format,
// for one-shot CLI runs scraped by a node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
