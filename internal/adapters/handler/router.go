package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// NewRouter wires the HTTP handlers onto a gin engine.
func NewRouter(h *HTTP) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = h.cfg.MaxUploadBytes

	router.Use(gin.Recovery(), requestLogger(), cors.Default())

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET(outputsRoute+"/:filename", h.Output)
	router.DELETE("/cleanup", h.Cleanup)

	merge := router.Group("/", bodyLimit(h.cfg.MaxUploadBytes))
	{
		merge.POST("/merge", h.Merge)
		merge.POST("/merge-json", h.MergeJSON)
	}

	return router
}

// requestLogger attaches a request scoped zerolog logger to the request context and logs completion.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(requestIDHeader)
		if id == "" {
			if u, err := uuid.NewV4(); err == nil {
				id = u.String()
			}
		}
		c.Header(requestIDHeader, id)

		l := log.With().
			Str("requestId", id).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()

		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()

		l.Info().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("clientIp", c.ClientIP()).
			Msg("handled request")
	}
}

func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
