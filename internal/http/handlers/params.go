package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
)

const maxUploadBytes = 20 << 20

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+name, fmt.Errorf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func pageParams(c *gin.Context) pagination.Params {
	return pagination.Parse(c.Query("page"), c.Query("limit"))
}

func respondPage[T any](c *gin.Context, rows []T, count int64, page pagination.Params) {
	response.RespondOK(c, pagination.NewResult(rows, count, page))
}

// queryUUID returns nil for an absent or blank value.
func queryUUID(c *gin.Context, key string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", key)
	}
	return &id, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02", "02.01.2006"}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", raw)
}

func queryDate(c *gin.Context, key string) (*time.Time, error) {
	t, err := parseDate(c.Query(key))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func queryBool(c *gin.Context, key string) (*bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", key)
	}
	return &v, nil
}

func formBool(c *gin.Context, key string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(c.PostForm(key)))
	return v
}

// dateRange reads dateFrom and dateTo.
func dateRange(c *gin.Context) (from, to *time.Time, err error) {
	if from, err = queryDate(c, "dateFrom"); err != nil {
		return nil, nil, err
	}
	if to, err = queryDate(c, "dateTo"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// readUpload reads a multipart file field fully, bounded by maxUploadBytes.
func readUpload(c *gin.Context, field string) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("file field %q is required", field)
	}
	if fh.Size > maxUploadBytes {
		return nil, "", fmt.Errorf("file exceeds %d bytes", maxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return nil, "", err
	}
	return raw, fh.Filename, nil
}

type idsRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required,min=1"`
}
