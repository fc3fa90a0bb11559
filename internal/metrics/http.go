package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GinMiddleware counts admin requests by route pattern. Instrument creation
// failures yield a pass-through middleware.
func GinMiddleware(mp metric.MeterProvider) gin.HandlerFunc {
	meter := mp.Meter(namespace)
	requests, err := meter.Int64Counter(namespace+"_http_requests_total",
		metric.WithDescription("Admin HTTP requests"))
	if err != nil {
		return func(c *gin.Context) { c.Next() }
	}
	latency, err := meter.Float64Histogram(namespace+"_http_request_duration_seconds",
		metric.WithDescription("Admin HTTP request duration"), metric.WithUnit("s"))
	if err != nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", route),
			attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
		)
		requests.Add(c.Request.Context(), 1, attrs)
		latency.Record(c.Request.Context(), time.Since(start).Seconds(), attrs)
	}
}
