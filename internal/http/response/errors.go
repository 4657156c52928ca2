package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	pkgerrors "github.com/kryptonit/mes-backend/internal/pkg/errors"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
)

type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type ValidationEnvelope struct {
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors"`
}

// RespondAPIError maps err onto a status and writes the error envelope.
func RespondAPIError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, FieldError{Path: fe.Field(), Message: validationMessage(fe)})
		}
		c.JSON(http.StatusBadRequest, ValidationEnvelope{Message: "Validation error", Errors: out})
		return
	}
	status, code := Classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		if status == http.StatusInternalServerError {
			err = errors.New("internal server error")
		}
	}
	RespondError(c, status, code, err)
}

// Classify returns the HTTP status and error code for err.
func Classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	if ae, ok := apierr.As(err); ok && ae.Status != 0 {
		return ae.Status, ae.Code
	}
	var pgErr *pgconn.PgError
	var connErr *pgconn.ConnectError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return http.StatusBadRequest, "invalid_json"
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict, "duplicate"
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		return http.StatusConflict, "duplicate"
	case errors.As(err, &pgErr) && pgErr.Code == "23503":
		return http.StatusConflict, "foreign_key"
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return http.StatusConflict, "foreign_key"
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable, "db_unavailable"
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, pkgerrors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, pkgerrors.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal"
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "uuid", "uuid4":
		return "must be a valid UUID"
	}
	return fmt.Sprintf("failed on %q", fe.Tag())
}
