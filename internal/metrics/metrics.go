// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	unitsTotal       *prometheus.CounterVec
	chunksTotal      *prometheus.CounterVec
	refreshesTotal   prometheus.Counter
	inFlightWorkers  prometheus.Gauge
	attemptsTotal    *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than
// once.
func Init() {
	once.Do(func() {
		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citecrawl_units_total",
				Help: "Work units resolved, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		chunksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citecrawl_chunks_total",
				Help: "Chunks completed, labeled by stage.",
			},
			[]string{"stage"},
		)

		refreshesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "citecrawl_session_refreshes_total",
				Help: "Session refresh requests issued by workers.",
			},
		)

		inFlightWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "citecrawl_inflight_workers",
				Help: "Workers currently executing a unit.",
			},
		)

		attemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citecrawl_unit_attempts_total",
				Help: "Per-unit execution attempts, labeled by stage.",
			},
			[]string{"stage"},
		)
	})
}

// Handler returns an http.Handler exposing the collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUnit increments the unit counter for a stage/outcome pair.
func ObserveUnit(stage, outcome string) {
	unitsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveChunk increments the chunk counter for a stage.
func ObserveChunk(stage string) {
	chunksTotal.WithLabelValues(stage).Inc()
}

// ObserveRefresh counts a session refresh that was actually performed.
func ObserveRefresh() {
	refreshesTotal.Inc()
}

// ObserveAttempt counts one execution attempt for a stage.
func ObserveAttempt(stage string) {
	attemptsTotal.WithLabelValues(stage).Inc()
}

// IncInFlight increments the in-flight workers gauge.
func IncInFlight() {
	inFlightWorkers.Inc()
}

// DecInFlight decrements the in-flight workers gauge.
func DecInFlight() {
	inFlightWorkers.Dec()
}
