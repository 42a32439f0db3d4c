package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_enricher_events_received_total",
		Help: "Total number of track events accepted for enrichment.",
	})

	EventsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "track_enricher_events_forwarded_total",
		Help: "Total number of enriched events delivered to the collection endpoint.",
	})

	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_enricher_events_failed_total",
		Help: "Total number of events aborted, labelled by the stage that failed.",
	}, []string{"stage"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_enricher_token_refreshes_total",
		Help: "Total number of access token acquisitions, labelled by source (exchange, shared_store) and status.",
	}, []string{"source", "status"})

	CatalogLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_enricher_catalog_lookups_total",
		Help: "Total number of catalog lookups, labelled by outcome (found, not_found, error).",
	}, []string{"outcome"})

	RateLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "track_enricher_rate_lookups_total",
		Help: "Total number of exchange rate resolutions, labelled by source (cache, upstream) and status.",
	}, []string{"source", "status"})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "track_enricher_pipeline_duration_ms",
		Help:    "End-to-end enrichment latency in milliseconds, forwarding included.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)
