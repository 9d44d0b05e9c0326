package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guess_poller_build_info",
			Help: "Build information of the import poller",
		},
		[]string{"version", "commit", "date"},
	)

	PollTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guess_poller_polls_total",
			Help: "Total number of status file polls, by result",
		},
		[]string{"result"},
	)

	ImportScriptRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guess_import_script_runs_total",
			Help: "Total number of import script runs",
		},
		[]string{"status"},
	)

	ImportScriptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guess_import_script_duration_seconds",
			Help:    "Duration of import script runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~2048s (~34 minutes)
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guess_poller_http_requests_total",
			Help: "Total number of status server requests",
		},
		[]string{"method", "path", "status"},
	)
)
