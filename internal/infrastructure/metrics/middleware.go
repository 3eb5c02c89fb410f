package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware returns a gin middleware that records request counts, durations
// and error totals per route.
func Middleware(exporter *PrometheusExporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		status := c.Writer.Status()

		exporter.RecordRequest(handler, strconv.Itoa(status), time.Since(start).Seconds())
		if status >= 500 {
			exporter.RecordError(handler)
		}
	}
}
