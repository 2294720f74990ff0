package terrain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	terrainLabel = "terrain"
	stageLabel   = "stage"
)

var (
	jordNodeCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "node_count",
		Help: "The number of tracked nodes per lifecycle stage.",
	}, []string{terrainLabel, stageLabel})

	jordNodeCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "node_cache_hits_total",
		Help: "The total number of node activations served from the inactive cache.",
	}, []string{terrainLabel})

	jordNodeCacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "node_cache_misses_total",
		Help: "The total number of node activations that required a load.",
	}, []string{terrainLabel})

	jordAdmissionsDeferredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admissions_deferred_total",
		Help: "The total number of node admissions deferred because the atlas was full.",
	}, []string{terrainLabel})
)

func instrumentNodeCacheHit(terrain string) {
	jordNodeCacheHitsTotal.
		With(prometheus.Labels{terrainLabel: terrain}).
		Inc()
}

func instrumentNodeCacheMiss(terrain string) {
	jordNodeCacheMissesTotal.
		With(prometheus.Labels{terrainLabel: terrain}).
		Inc()
}

func instrumentAdmissionDeferred(terrain string) {
	jordAdmissionsDeferredTotal.
		With(prometheus.Labels{terrainLabel: terrain}).
		Inc()
}

func instrumentNodeCounts(terrain string, active, loading, inactive, pending int) {
	jordNodeCount.
		With(prometheus.Labels{terrainLabel: terrain, stageLabel: "active"}).
		Set(float64(active))
	jordNodeCount.
		With(prometheus.Labels{terrainLabel: terrain, stageLabel: "loading"}).
		Set(float64(loading))
	jordNodeCount.
		With(prometheus.Labels{terrainLabel: terrain, stageLabel: "inactive"}).
		Set(float64(inactive))
	jordNodeCount.
		With(prometheus.Labels{terrainLabel: terrain, stageLabel: "pending"}).
		Set(float64(pending))
}
