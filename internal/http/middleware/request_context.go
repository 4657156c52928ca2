package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
)

// AttachClientContext records the caller ip and user agent for audit and session tracking.
func AttachClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := ctxutil.WithClientData(c.Request.Context(), &ctxutil.ClientData{
			IP:        clientIP(c),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// clientIP takes the first X-Forwarded-For hop, then falls back to the socket peer.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return strings.TrimPrefix(ip, "::ffff:")
		}
	}
	return strings.TrimPrefix(c.RemoteIP(), "::ffff:")
}
