package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guess_build_info",
			Help: "Build information of the pricing export converter",
		},
		[]string{"component", "version", "commit", "date"},
	)

	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guess_ingest_records_total",
			Help: "Total number of export records ingested, by record type",
		},
		[]string{"record_type"},
	)

	OverridesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guess_ingest_overrides_dropped_total",
			Help: "Total number of variant price overrides dropped because no style expansion matched",
		},
	)

	DefaultSchedulesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guess_consolidate_default_schedules_total",
			Help: "Total number of adjustments consolidated with a synthesized open schedule",
		},
	)

	CatalogExcludedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guess_catalog_excluded_total",
			Help: "Total number of catalog rows excluded by their status code",
		},
	)

	AdjustmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guess_adjustments_total",
			Help: "Total number of adjustments converted",
		},
		[]string{"status"},
	)

	PricingEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guess_pricing_events_total",
			Help: "Total number of pricing event files produced",
		},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guess_conversion_duration_seconds",
			Help:    "Duration of one input file conversion",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		},
		[]string{"status"},
	)

	SinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guess_sink_writes_total",
			Help: "Total number of export files written, by sink and status",
		},
		[]string{"sink", "status"},
	)

	ArchiveRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guess_archive_rows_total",
			Help: "Total number of pricing event item rows archived to ClickHouse",
		},
		[]string{"status"},
	)
)
