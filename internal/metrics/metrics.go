// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regions_clicks_total",
		Help: "Clicks handled by drill-down controllers, by outcome",
	}, []string{"outcome"})
	HoversApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_hovers_applied_total",
		Help: "Hover updates that survived throttling",
	})
	HoversCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_hovers_coalesced_total",
		Help: "Hover updates folded into a later one",
	})
	FetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regions_fetches_total",
		Help: "Boundary fetches by level and result",
	}, []string{"level", "result"})
	FetchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "regions_fetch_duration_ms",
		Help:    "Boundary fetch duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"level"})
	StaleFetchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_stale_fetches_total",
		Help: "Fetch results discarded because the controller moved on",
	})
	BadgesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_badges_generated_total",
		Help: "Badge markers generated",
	})
	StyleUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_style_updates_total",
		Help: "Accepted style parameter updates",
	})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "regions_sessions_active",
		Help: "Open viewer sessions",
	})
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regions_events_dropped_total",
		Help: "Bus events not delivered to a slow subscriber, by resource",
	}, []string{"resource"})
)

func init() {
	prometheus.MustRegister(ClicksTotal)
	prometheus.MustRegister(HoversApplied)
	prometheus.MustRegister(HoversCoalesced)
	prometheus.MustRegister(FetchesTotal)
	prometheus.MustRegister(FetchDurationMs)
	prometheus.MustRegister(StaleFetchesTotal)
	prometheus.MustRegister(BadgesTotal)
	prometheus.MustRegister(StyleUpdatesTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(EventsDropped)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
