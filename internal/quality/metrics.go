package quality

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedRecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tp_feed_records_fetched_total",
			Help: "Raw records fetched per feed source",
		},
		[]string{"source"},
	)

	FeedFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tp_feed_fetch_failures_total",
			Help: "Fetch failures per feed source",
		},
		[]string{"source"},
	)

	FeedParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tp_feed_parse_errors_total",
			Help: "Records dropped because they could not be parsed",
		},
		[]string{"source"},
	)

	AdapterHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tp_feed_adapter_healthy",
			Help: "1 when the adapter is healthy, 0 when degraded",
		},
		[]string{"source"},
	)

	ValidationRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tp_validation_rejects_total",
			Help: "Indicators rejected by validation, by reason",
		},
		[]string{"reason"},
	)

	IndicatorsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tp_indicators_merged_total",
			Help: "Indicator upserts merged into the store",
		},
	)

	EnrichmentPartial = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tp_enrichment_partial_total",
			Help: "Enrichers that failed or timed out, leaving partial context",
		},
		[]string{"enricher"},
	)

	EnrichmentCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tp_enrichment_cache_hits_total",
			Help: "Enrichment results served from the TTL cache",
		},
	)

	HotHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tp_store_hot_hits_total",
			Help: "Hot tier lookup hits",
		},
	)

	HotMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tp_store_hot_misses_total",
			Help: "Hot tier lookup misses",
		},
	)

	HotEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tp_store_hot_evictions_total",
			Help: "Hot tier capacity evictions",
		},
	)

	WarmErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tp_store_warm_errors_total",
			Help: "Warm tier operation failures",
		},
	)

	ArchivedIndicators = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tp_store_archived_total",
			Help: "Indicators moved from warm to cold storage",
		},
	)

	Detections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tp_detections_total",
			Help: "Detections emitted, by matching mode",
		},
		[]string{"method"},
	)

	DetectionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tp_detection_scan_seconds",
			Help:    "Real-time event scan latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	SweepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tp_age_sweep_transitions_total",
			Help: "Indicator lifecycle transitions performed by the age sweep",
		},
		[]string{"to"},
	)

	Mitigations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tp_mitigations_total",
			Help: "Mitigation action attempts, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tp_escalations_total",
			Help: "Detections escalated to the human queue",
		},
	)

	SIEMRecordsPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tp_siem_records_pushed_total",
			Help: "Detection records forwarded to the SIEM layer",
		},
	)
)
