package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

const HeaderRequestID = "X-Request-ID"

// GinMiddleware assigns a request id and logs one line per request.
func (l *Logger) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = ulid.Make().String()
		}
		c.Header(HeaderRequestID, rid)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), RequestIDKey, rid))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		l.WithContext(c.Request.Context()).HTTPRequestLog(c.Request.Method, path, c.Writer.Status(), time.Since(start), c.ClientIP())
	}
}
