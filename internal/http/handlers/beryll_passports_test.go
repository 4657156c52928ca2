package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/services"
)

type stubPassports struct {
	services.PassportExportService
	filter beryllrepo.ServerFilter
	limit  int
}

func (s *stubPassports) Export(_ context.Context, f beryllrepo.ServerFilter) (*services.Export, error) {
	s.filter = f
	return &services.Export{Filename: "passports.xlsx", ContentType: services.ContentTypeXLSX, Body: []byte("PK")}, nil
}

func (s *stubPassports) ExportSelected(_ context.Context, ids []uuid.UUID) (*services.Export, error) {
	if len(ids) == 0 {
		return nil, apierr.BadRequest("Не выбраны серверы")
	}
	return &services.Export{Filename: "selected.xlsx", ContentType: services.ContentTypeXLSX, Body: []byte("PK")}, nil
}

func (s *stubPassports) Preview(_ context.Context, f beryllrepo.ServerFilter, limit int) (*services.PassportPreview, error) {
	s.filter, s.limit = f, limit
	return &services.PassportPreview{}, nil
}

func newPassportRouter(stub *stubPassports) http.Handler {
	h := NewBeryllHandler(BeryllDeps{Passports: stub})
	r := testRouter(worker())
	g := r.Group("/api/beryll/export/passports")
	g.POST("", h.ExportPassports)
	g.GET("/preview", h.PassportPreview)
	g.POST("/selected", h.ExportSelectedPassports)
	return r
}

func TestPassportExportResponse(t *testing.T) {
	stub := &stubPassports{}
	r := newPassportRouter(stub)

	w := do(t, r, http.MethodPost, "/api/beryll/export/passports", map[string]any{"batchId": "null", "dateFrom": "2026-09-01", "includeArchived": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, services.ContentTypeXLSX, w.Header().Get("Content-Type"))
	require.Equal(t, `attachment; filename="passports.xlsx"`, w.Header().Get("Content-Disposition"))
	require.True(t, stub.filter.Unbatched)
	require.Nil(t, stub.filter.BatchID)
	require.True(t, stub.filter.IncludeArchived)
	require.NotNil(t, stub.filter.DateFrom)

	w = do(t, r, http.MethodPost, "/api/beryll/export/passports", map[string]any{"batchId": "batch-7"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPost, "/api/beryll/export/passports/selected", map[string]any{"serverIds": []string{}})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPassportPreviewQuery(t *testing.T) {
	stub := &stubPassports{}
	r := newPassportRouter(stub)

	batch := uuid.New()
	w := do(t, r, http.MethodGet, "/api/beryll/export/passports/preview?limit=25&status=DONE&batchId="+batch.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, 25, stub.limit)
	require.Equal(t, "DONE", stub.filter.Status)
	require.Equal(t, batch, *stub.filter.BatchID)
	require.False(t, stub.filter.IncludeArchived)

	w = do(t, r, http.MethodGet, "/api/beryll/export/passports/preview?includeArchived=perhaps", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
