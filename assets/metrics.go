package assets

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const layerLabel = "layer"

var (
	jordAssetLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asset_loads_total",
		Help: "The total number of requested asset loads.",
	}, []string{layerLabel})

	jordAssetLoadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asset_load_failures_total",
		Help: "The total number of asset loads that fell back to an empty payload.",
	}, []string{layerLabel})

	jordAssetQueueOverflowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asset_queue_overflows_total",
		Help: "The total number of asset loads served empty because the load queue was saturated.",
	}, []string{layerLabel})

	jordAssetPrewarmsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asset_prewarms_total",
		Help: "The total number of tiles loaded into the prewarm cache.",
	}, []string{layerLabel})

	jordAssetLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "asset_load_duration_seconds",
		Help:    "The duration of successful asset loads.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{layerLabel})
)

func instrumentLoadRequested(layer string) {
	jordAssetLoadsTotal.
		With(prometheus.Labels{layerLabel: layer}).
		Inc()
}

func instrumentLoadFailed(layer string) {
	jordAssetLoadFailuresTotal.
		With(prometheus.Labels{layerLabel: layer}).
		Inc()
}

func instrumentQueueOverflow(layer string) {
	jordAssetQueueOverflowsTotal.
		With(prometheus.Labels{layerLabel: layer}).
		Inc()
}

func instrumentPrewarm(layer string) {
	jordAssetPrewarmsTotal.
		With(prometheus.Labels{layerLabel: layer}).
		Inc()
}

func instrumentLoadDone(layer string, d time.Duration) {
	jordAssetLoadDuration.
		With(prometheus.Labels{layerLabel: layer}).
		Observe(d.Seconds())
}
