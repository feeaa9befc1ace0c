package gateway

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bizpilot",
		Subsystem: "request",
		Name:      "requests_count",
		Help:      "Number of requests per each endpoint",
	}, []string{"code", "method", "handler"})

	resTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bizpilot",
		Subsystem: "response",
		Name:      "response_time_seconds",
		Help:      "bizpilot response duration",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
	}, []string{"handler"})

	resSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bizpilot",
		Subsystem: "response",
		Name:      "size_bytes",
		Help:      "bizpilot response size",
		Buckets:   prometheus.ExponentialBuckets(128, 4, 8),
	})

	reqSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bizpilot",
		Subsystem: "request",
		Name:      "size_bytes",
		Help:      "Request size instrumenter",
		Buckets:   prometheus.ExponentialBuckets(128, 4, 8),
	})

	registerOnce sync.Once
)

// Instrumentation records request counts, latency and sizes. /metrics itself is skipped.
// Collectors are registered once so the middleware can be built for several apps in tests.
func Instrumentation() fiber.Handler {
	registerOnce.Do(func() {
		for _, v := range []prometheus.Collector{requestCount, resTime, resSize, reqSize} {
			if err := prometheus.Register(v); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		handler := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			handler = r.Path
		}
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		requestCount.WithLabelValues(strconv.Itoa(status), c.Method(), handler).Inc()
		resTime.WithLabelValues(handler).Observe(time.Since(start).Seconds())
		// reading a streamed body would drain it before it reaches the client
		if !c.Response().IsBodyStream() {
			resSize.Observe(float64(len(c.Response().Body())))
		}
		reqSize.Observe(float64(len(c.Request().Body())))
		return err
	}
}
