// README: Prometheus collectors on a dedicated registry, served at /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the API.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PresenceUpdates counts telemetry pings by result (ok, invalid, unavailable).
	PresenceUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "presence_updates_total", Help: "Presence pings by result."},
		[]string{"result"},
	)
	// MatchQueries counts nearest-worker queries by outcome (found, none, invalid).
	MatchQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "match_queries_total", Help: "Nearest-worker queries by outcome."},
		[]string{"outcome"},
	)
	// Dispatches counts assignment attempts by outcome (assigned, no_worker, failed).
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_assignments_total", Help: "Order assignments by outcome."},
		[]string{"outcome"},
	)
	// ClaimAttempts records how many candidates an assignment went through.
	ClaimAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_claim_attempts", Help: "Candidates tried per successful assignment.", Buckets: []float64{1, 2, 3, 5, 8}},
	)
	// RouteLookups counts route cache lookups by outcome (hit, miss, error).
	RouteLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_cache_lookups_total", Help: "Route cache lookups by outcome."},
		[]string{"outcome"},
	)
	PresenceReaped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "presence_reaped_total", Help: "Stale presence records removed by the reaper."},
	)
	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rate_limit_exceeded_total", Help: "Presence pings rejected by the per-worker rate limiter."},
	)
	TrackingStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tracking_streams_active", Help: "Open tracking websocket streams."},
	)
)

var regOnce sync.Once

// RegisterDefault registers every collector on Registry. Safe to call twice.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests, HTTPDuration,
			PresenceUpdates, MatchQueries,
			Dispatches, ClaimAttempts,
			RouteLookups, PresenceReaped,
			RateLimitExceeded, TrackingStreams,
		)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RouteObserver feeds route cache lookups into RouteLookups.
type RouteObserver struct{}

func (RouteObserver) ObserveLookup(outcome string) {
	RouteLookups.WithLabelValues(outcome).Inc()
}

// ObserveSweep feeds reaper sweeps into PresenceReaped.
func ObserveSweep(removed int) {
	PresenceReaped.Add(float64(removed))
}
