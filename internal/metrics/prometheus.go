// Package metrics exposes ccbell's Prometheus instruments. Everything is
// registered on the default registry; `ccbell serve` exposes it over HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ccbell",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Total number of notification decisions by event type and reason",
		},
		[]string{"event_type", "reason"},
	)

	decideDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ccbell",
			Subsystem: "engine",
			Name:      "decide_duration_seconds",
			Help:      "Time spent deciding a single event",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
	)

	reloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ccbell",
			Subsystem: "engine",
			Name:      "reloads_total",
			Help:      "Configuration reloads by outcome",
		},
		[]string{"outcome"},
	)

	playsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ccbell",
			Subsystem: "player",
			Name:      "plays_total",
			Help:      "Sound playback attempts by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	playDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ccbell",
			Subsystem: "player",
			Name:      "play_duration_seconds",
			Help:      "Duration of the external player command",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ccbell",
			Subsystem: "player",
			Name:      "queue_depth",
			Help:      "Sounds waiting to be played",
		},
	)

	persistErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ccbell",
			Subsystem: "storage",
			Name:      "persist_errors_total",
			Help:      "Failed cooldown or audit writes",
		},
	)

	busDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ccbell",
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Events lost because a subscriber buffer was full",
		},
		[]string{"topic"},
	)
)

func RecordDecision(eventType, reason string, took time.Duration) {
	decisionsTotal.WithLabelValues(eventType, reason).Inc()
	decideDuration.Observe(took.Seconds())
}

func RecordReload(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "rejected"
	}
	reloadsTotal.WithLabelValues(outcome).Inc()
}

func RecordPlay(eventType, outcome string, took time.Duration) {
	playsTotal.WithLabelValues(eventType, outcome).Inc()
	if took > 0 {
		playDuration.Observe(took.Seconds())
	}
}

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

func RecordPersistError() { persistErrorsTotal.Inc() }

func RecordBusDrop(topic string) { busDroppedTotal.WithLabelValues(topic).Inc() }

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler { return promhttp.Handler() }
