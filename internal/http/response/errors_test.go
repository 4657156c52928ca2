package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	pkgerrors "github.com/kryptonit/mes-backend/internal/pkg/errors"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"api error", apierr.BadRequest("Количество должно быть больше нуля"), http.StatusBadRequest, "bad_request"},
		{"wrapped api error", fmt.Errorf("reserve: %w", apierr.Conflict("Коробка уже зарезервирована")), http.StatusConflict, "conflict"},
		{"record not found", fmt.Errorf("load: %w", gorm.ErrRecordNotFound), http.StatusNotFound, "not_found"},
		{"sentinel not found", pkgerrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{"duplicate key", gorm.ErrDuplicatedKey, http.StatusConflict, "duplicate"},
		{"pg unique", &pgconn.PgError{Code: "23505"}, http.StatusConflict, "duplicate"},
		{"pg foreign key", &pgconn.PgError{Code: "23503"}, http.StatusConflict, "foreign_key"},
		{"forbidden", pkgerrors.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"invalid argument", pkgerrors.ErrInvalidArgument, http.StatusBadRequest, "bad_request"},
		{"empty body", io.EOF, http.StatusBadRequest, "invalid_json"},
		{"malformed json", &json.SyntaxError{Offset: 3}, http.StatusBadRequest, "invalid_json"},
		{"wrong json type", &json.UnmarshalTypeError{Value: "string", Field: "count"}, http.StatusBadRequest, "invalid_json"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := Classify(tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.code, code)
		})
	}
}

func TestRespondAPIErrorHidesInternalMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondAPIError(c, errors.New("pq: password authentication failed"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "internal server error", env.Error.Message)
	require.Len(t, c.Errors, 1)
}

func TestRespondAPIErrorValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req struct {
		Quantity int `json:"quantity" binding:"required,min=1"`
	}
	err := c.ShouldBindJSON(&req)
	require.Error(t, err)

	RespondAPIError(c, err)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var env ValidationEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "Validation error", env.Message)
	require.Len(t, env.Errors, 1)
}
