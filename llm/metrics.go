package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bizpilot",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Ollama calls by operation and outcome",
	}, []string{"op", "outcome"})

	llmLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bizpilot",
		Subsystem: "llm",
		Name:      "call_duration_seconds",
		Help:      "Ollama call latency",
		Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(llmCalls, llmLatency)
}

func observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	llmCalls.WithLabelValues(op, outcome).Inc()
	llmLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
