package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainwatch_api_calls_total",
			Help: "Total upstream API calls",
		},
		[]string{"source", "endpoint", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rainwatch_api_latency_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "endpoint"},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainwatch_cycles_total",
			Help: "Refresh cycles by outcome (refreshed, cached, failed)",
		},
		[]string{"outcome"},
	)

	PlaceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainwatch_place_failures_total",
			Help: "Places skipped during a cycle, by pipeline",
		},
		[]string{"pipeline"},
	)

	ObservationRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rainwatch_observation_records_total",
			Help: "Precipitation records extracted from observations",
		},
	)

	ParseRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainwatch_parse_rejects_total",
			Help: "Upstream readings or elements rejected while parsing, by source",
		},
		[]string{"source"},
	)

	StationsIndexed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rainwatch_stations_indexed",
			Help: "Stations in the registry with usable coordinates",
		},
	)

	LastRefresh = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rainwatch_last_refresh_timestamp_seconds",
			Help: "Unix time of the last successful refresh",
		},
	)
)

// WriteTextfile dumps the default registry in the node_exporter textfile
// format. Batch runs use this instead of serving /metrics.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
