package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torii-authz/torii/internal/infrastructure/metrics"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck() error
}

// RouterConfig bundles the handlers a router serves.
type RouterConfig struct {
	SchemaHandler     *SchemaHandler
	DataHandler       *DataHandler
	PermissionHandler *PermissionHandler
	Health            HealthChecker
	Exporter          *metrics.PrometheusExporter // nil disables the metrics middleware
	Logger            *zap.Logger
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(cfg *RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Logger != nil {
		r.Use(requestLogger(cfg.Logger))
	}
	if cfg.Exporter != nil {
		r.Use(metrics.Middleware(cfg.Exporter))
	}

	r.GET("/healthz", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health.HealthCheck(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/schemas/validate", cfg.SchemaHandler.Validate)

		tenant := v1.Group("/tenants/:tenant")
		{
			tenant.POST("/schemas", cfg.SchemaHandler.Write)
			tenant.GET("/schemas", cfg.SchemaHandler.Read)
			tenant.GET("/schemas/versions", cfg.SchemaHandler.ListVersions)
			tenant.DELETE("/schemas", cfg.SchemaHandler.Delete)

			tenant.POST("/relationships", cfg.DataHandler.WriteRelationships)
			tenant.POST("/relationships/delete", cfg.DataHandler.DeleteRelationships)
			tenant.GET("/relationships", cfg.DataHandler.ReadRelationships)

			tenant.POST("/attributes", cfg.DataHandler.WriteAttributes)
			tenant.GET("/attributes", cfg.DataHandler.ReadAttributes)
			tenant.POST("/attributes/delete", cfg.DataHandler.DeleteAttribute)

			tenant.POST("/check", cfg.PermissionHandler.Check)
			tenant.POST("/expand", cfg.PermissionHandler.Expand)
			tenant.POST("/lookup/entities", cfg.PermissionHandler.LookupEntity)
			tenant.POST("/lookup/subjects", cfg.PermissionHandler.LookupSubject)
		}
	}

	return r
}

// requestLogger logs one line per request at debug level, errors at warn.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
