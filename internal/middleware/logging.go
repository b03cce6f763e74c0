// Package middleware holds the Gin middlewares.
package middleware

import (
	"time"

	"checkdoc-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs method, path, status and latency of every request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
	}
}
