package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/platform/ctxutil"
)

// testRouter returns an engine whose requests carry p as the principal.
func testRouter(p *ctxutil.Principal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if p != nil {
			c.Request = c.Request.WithContext(ctxutil.WithPrincipal(c.Request.Context(), p))
		}
		c.Next()
	})
	return r
}

func worker() *ctxutil.Principal {
	return &ctxutil.Principal{UserID: uuid.New(), Login: "worker", Role: "ASSEMBLER"}
}

func do(t *testing.T, r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
