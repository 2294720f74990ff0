package streamer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const instanceLabel = "instance"

var (
	jordInstanceCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "instance_count",
		Help: "The number of terrain instances.",
	})

	jordViewerCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "viewer_count",
		Help: "The number of subscribed viewers per terrain instance.",
	}, []string{instanceLabel})

	jordFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_total",
		Help: "The total number of scheduler ticks.",
	})

	jordFrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_duration_seconds",
		Help:    "The duration of one scheduler tick across all instances.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
)

func instrumentInstanceGauge(count int) {
	jordInstanceCount.Set(float64(count))
}

func instrumentViewerGauge(instance string, count int) {
	jordViewerCount.
		With(prometheus.Labels{instanceLabel: instance}).
		Set(float64(count))
}

func instrumentFrame(d time.Duration) {
	jordFramesTotal.Inc()
	jordFrameDuration.Observe(d.Seconds())
}
