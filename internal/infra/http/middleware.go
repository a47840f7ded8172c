package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

func requestLogger(logger *slog.Logger, metrics HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if metrics != nil {
			metrics.ObserveHTTP(c.Request.Method, route, status, elapsed)
		}
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		logger.LogAttrs(c.Request.Context(), level, "req_end",
			slog.String("id", id),
			slog.String("m", c.Request.Method),
			slog.String("p", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("ms", elapsed.Milliseconds()),
			slog.String("ip", c.ClientIP()),
		)
	}
}
