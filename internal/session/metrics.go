package session

import "github.com/prometheus/client_golang/prometheus"

var (
	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localchat",
			Subsystem: "model",
			Name:      "loads_total",
			Help:      "Total number of model loads by result",
		},
		[]string{"result"},
	)

	modelLoadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "localchat",
			Subsystem: "model",
			Name:      "load_duration_seconds",
			Help:      "Duration of successful model loads in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localchat",
			Subsystem: "generation",
			Name:      "total",
			Help:      "Total number of generation tasks by outcome",
		},
		[]string{"outcome"},
	)

	generationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "localchat",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Wall time of completed generations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	generationSpeed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "localchat",
			Subsystem: "generation",
			Name:      "tokens_per_second",
			Help:      "Tokens per second reported by the backend for the last generation",
		},
	)
)

func init() {
	prometheus.MustRegister(modelLoadsTotal, modelLoadSeconds, generationsTotal, generationSeconds, generationSpeed)
}
