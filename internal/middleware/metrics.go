package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zhejian/url-shortener/shortlink/internal/observability"
)

// Metrics records request counts, latencies and in-flight requests per route.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		m.HTTPRequestStarted(ctx)

		c.Next()

		m.HTTPRequestFinished(ctx, c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start).Seconds())
	}
}
