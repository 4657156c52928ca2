package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/services"
)

type AuthMiddleware struct {
	log         *logger.Logger
	authService services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, authService services.AuthService) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	return &AuthMiddleware{log: middlewareLogger, authService: authService}
}

// RequireAuth resolves the bearer token into a principal on the request context.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractTokenFromAll(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorEnvelope{
				Error: response.APIError{Message: "missing or invalid token", Code: "unauthorized"},
			})
			return
		}
		principal, err := am.authService.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err)
			status, code := response.Classify(err)
			if status == http.StatusInternalServerError {
				status, code = http.StatusUnauthorized, "unauthorized"
			}
			c.AbortWithStatusJSON(status, response.ErrorEnvelope{
				Error: response.APIError{Message: err.Error(), Code: code},
			})
			return
		}
		if principal == nil || principal.UserID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorEnvelope{
				Error: response.APIError{Message: "forbidden", Code: "forbidden"},
			})
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithPrincipal(c.Request.Context(), principal))
		c.Set("user_id", principal.UserID.String())
		c.Next()
	}
}

// RequireAbility lets SUPER_ADMIN through and otherwise demands the ability slug.
func RequireAbility(slug string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := ctxutil.GetPrincipal(c.Request.Context())
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorEnvelope{
				Error: response.APIError{Message: "unauthorized", Code: "unauthorized"},
			})
			return
		}
		if !p.Can(slug) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorEnvelope{
				Error: response.APIError{Message: fmt.Sprintf("requires ability %s", slug), Code: "forbidden"},
			})
			return
		}
		c.Next()
	}
}

// RequireAnyAbility passes principals holding at least one of slugs.
func RequireAnyAbility(slugs ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := ctxutil.GetPrincipal(c.Request.Context())
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorEnvelope{
				Error: response.APIError{Message: "unauthorized", Code: "unauthorized"},
			})
			return
		}
		for _, slug := range slugs {
			if p.Can(slug) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorEnvelope{
			Error: response.APIError{Message: fmt.Sprintf("requires one of %s", strings.Join(slugs, ", ")), Code: "forbidden"},
		})
	}
}

func extractTokenFromAll(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	// EventSource cannot set headers, so the stream passes ?token=.
	return strings.TrimSpace(c.Query("token"))
}
