// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdaptationLevel tracks the current self-adaptation level
	AdaptationLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcap_adaptation_level",
			Help: "Current self-adaptation level (interpolation = full expression)",
		},
	)

	// AdaptationTransitionsTotal counts controller publications by direction
	AdaptationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcap_adaptation_transitions_total",
			Help: "Total number of transformations published by the self-adaptation controller",
		},
		[]string{"direction"},
	)

	// TransformSwapsTotal counts active transformation replacements by source
	TransformSwapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcap_transform_swaps_total",
			Help: "Total number of active transformation replacements",
		},
		[]string{"source"},
	)

	// FilterPushesTotal counts capture filter pushes by result
	FilterPushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcap_filter_pushes_total",
			Help: "Total number of capture filter pushes to the device",
		},
		[]string{"result"},
	)

	// ForwarderBatchSize tracks records per forwarder delivery
	ForwarderBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netcap_forwarder_batch_size",
			Help:    "Number of records delivered per forwarder call",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
		[]string{"forwarder"},
	)

	// CommandsTotal counts interactive commands by name and result
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcap_commands_total",
			Help: "Total number of interactive commands executed",
		},
		[]string{"command", "result"},
	)
)

// Label values shared by the vectors above.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"

	DirectionDown    = "down"
	DirectionRestore = "restore"
)
