package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kryptonit/mes-backend/internal/domain/rbac"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/services"
)

// tokenAuth resolves tokens from a fixed table.
type tokenAuth struct {
	services.AuthService
	principals map[string]*ctxutil.Principal
}

func (a tokenAuth) Authenticate(_ context.Context, token string) (*ctxutil.Principal, error) {
	p, ok := a.principals[token]
	if !ok {
		return nil, apierr.Unauthorized("Не авторизован")
	}
	return p, nil
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	am := NewAuthMiddleware(logger.Nop(), tokenAuth{principals: map[string]*ctxutil.Principal{
		"keeper": {UserID: uuid.New(), Login: "keeper", Role: "WAREHOUSE", Abilities: []string{rbac.AbilityWarehouseView}},
		"admin":  {UserID: uuid.New(), Login: "admin", Role: "SUPER_ADMIN"},
		"ghost":  {Login: "ghost"},
	}})

	r := gin.New()
	api := r.Group("/api", am.RequireAuth())
	api.GET("/me", func(c *gin.Context) {
		p := ctxutil.GetPrincipal(c.Request.Context())
		c.String(http.StatusOK, p.Login)
	})
	api.GET("/boxes", RequireAbility(rbac.AbilityWarehouseView), func(c *gin.Context) { c.Status(http.StatusOK) })
	api.POST("/boxes", RequireAbility(rbac.AbilityWarehouseManage), func(c *gin.Context) { c.Status(http.StatusCreated) })
	api.GET("/assembly", RequireAnyAbility(rbac.AbilityDevicesView, rbac.AbilityWarehouseView), func(c *gin.Context) { c.Status(http.StatusOK) })
	api.GET("/recipes", RequireAnyAbility(rbac.AbilityRecipeManage, rbac.AbilityAssemblyExecute), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/open", RequireAbility(rbac.AbilityWarehouseView), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRequireAuthAndAbility(t *testing.T) {
	r := newAuthRouter()

	cases := []struct {
		name   string
		method string
		target string
		header string
		want   int
	}{
		{"no token", http.MethodGet, "/api/me", "", http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "/api/me", "Bearer nope", http.StatusUnauthorized},
		{"principal without id", http.MethodGet, "/api/me", "Bearer ghost", http.StatusForbidden},
		{"bearer header", http.MethodGet, "/api/me", "Bearer keeper", http.StatusOK},
		{"query token", http.MethodGet, "/api/me?token=keeper", "", http.StatusOK},
		{"has ability", http.MethodGet, "/api/boxes", "bearer keeper", http.StatusOK},
		{"missing ability", http.MethodPost, "/api/boxes", "Bearer keeper", http.StatusForbidden},
		{"super admin bypass", http.MethodPost, "/api/boxes", "Bearer admin", http.StatusCreated},
		{"ability without auth", http.MethodGet, "/open", "", http.StatusUnauthorized},
		{"any of abilities", http.MethodGet, "/api/assembly", "Bearer keeper", http.StatusOK},
		{"none of abilities", http.MethodGet, "/api/recipes", "Bearer keeper", http.StatusForbidden},
		{"any of abilities as admin", http.MethodGet, "/api/recipes", "Bearer admin", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}
