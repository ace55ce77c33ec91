package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	cycleResultSynced  = "synced"
	cycleResultSkipped = "skipped"
	cycleResultAborted = "aborted"
)

var (
	syncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "position_indexer_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"token_type", "result"},
	)

	handlerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "position_indexer_handler_failures_total",
			Help: "Total number of isolated event handler failures",
		},
		[]string{"token_type", "handler"},
	)

	checkpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "position_indexer_checkpoint_block",
			Help: "Latest committed block number",
		},
		[]string{"token_type"},
	)

	syncCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "position_indexer_cycle_duration_seconds",
			Help:    "Wall-clock duration of a sync cycle",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"token_type"},
	)

	resolverCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "position_indexer_resolver_calls_total",
			Help: "Total number of position resolutions by kind",
		},
		[]string{"kind"},
	)
)
