package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	productionrepo "github.com/kryptonit/mes-backend/internal/data/repos/production"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/services"
)

type stubProduction struct {
	services.ProductionService
	input       services.OutputInput
	filter      productionrepo.OutputFilter
	approved    []uuid.UUID
	adjustments map[uuid.UUID]int
}

func (s *stubProduction) Create(_ context.Context, in services.OutputInput) (*types.ProductionOutput, error) {
	s.input = in
	return &types.ProductionOutput{ID: uuid.New(), ClaimedQty: *in.ClaimedQty}, nil
}

func (s *stubProduction) Approve(_ context.Context, ids []uuid.UUID, adj map[uuid.UUID]int) (int, error) {
	s.approved, s.adjustments = ids, adj
	return len(ids), nil
}

func (s *stubProduction) Reject(_ context.Context, ids []uuid.UUID, reason string) (int, error) {
	if reason == "" {
		return 0, apierr.BadRequest("Укажите причину отклонения")
	}
	return len(ids), nil
}

func (s *stubProduction) Matrix(_ context.Context, f productionrepo.OutputFilter) (*services.OutputMatrix, error) {
	s.filter = f
	return &services.OutputMatrix{}, nil
}

func newProductionRouter(stub *stubProduction) http.Handler {
	h := NewProductionHandler(stub)
	r := testRouter(worker())
	g := r.Group("/api/production")
	g.POST("/outputs", h.Create)
	g.POST("/outputs/approve", h.Approve)
	g.POST("/outputs/reject", h.Reject)
	g.GET("/matrix", h.Matrix)
	return r
}

func TestOutputCreateParsesDate(t *testing.T) {
	stub := &stubProduction{}
	r := newProductionRouter(stub)

	w := do(t, r, http.MethodPost, "/api/production/outputs", map[string]any{"date": "14.10.2026", "claimedQty": 4})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, stub.input.Date)
	require.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), *stub.input.Date)

	w = do(t, r, http.MethodPost, "/api/production/outputs", map[string]any{"date": "yesterday", "claimedQty": 4})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOutputDecisionBinding(t *testing.T) {
	stub := &stubProduction{}
	r := newProductionRouter(stub)

	id := uuid.New()
	w := do(t, r, http.MethodPost, "/api/production/outputs/approve", map[string]any{
		"ids":         []string{id.String()},
		"adjustments": map[string]int{id.String(): 2},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, []uuid.UUID{id}, stub.approved)
	require.Equal(t, 2, stub.adjustments[id])
	var out struct {
		Processed int `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, 1, out.Processed)

	w = do(t, r, http.MethodPost, "/api/production/outputs/approve", map[string]any{"ids": []string{}})
	require.Equal(t, http.StatusBadRequest, w.Code, "at least one id")

	w = do(t, r, http.MethodPost, "/api/production/outputs/reject", map[string]any{"ids": []string{id.String()}})
	require.Equal(t, http.StatusBadRequest, w.Code, "reason is required")
	w = do(t, r, http.MethodPost, "/api/production/outputs/reject", map[string]any{"ids": []string{id.String()}, "reason": "брак"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMatrixDefaultsWindow(t *testing.T) {
	stub := &stubProduction{}
	r := newProductionRouter(stub)

	w := do(t, r, http.MethodGet, "/api/production/matrix", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, stub.filter.DateFrom)
	require.WithinDuration(t, time.Now().AddDate(0, 0, -30), *stub.filter.DateFrom, time.Minute)

	team := uuid.New()
	w = do(t, r, http.MethodGet, "/api/production/matrix?dateFrom=2026-10-01&teamId="+team.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []uuid.UUID{team}, stub.filter.TeamIDs)
	require.Equal(t, 1, stub.filter.DateFrom.Day())

	w = do(t, r, http.MethodGet, "/api/production/matrix?teamId=x", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
