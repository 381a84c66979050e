package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-sms-api/internal/service"
)

// Metrics records request duration and status per route. Operational
// endpoints are left out so scrapes don't count themselves.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	skip := map[string]struct{}{
		"/metrics": {},
		"/health":  {},
		"/ready":   {},
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
