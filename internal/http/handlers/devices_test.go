package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	devicerepo "github.com/kryptonit/mes-backend/internal/data/repos/device"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/pkg/pagination"
	"github.com/kryptonit/mes-backend/internal/platform/apierr"
	"github.com/kryptonit/mes-backend/internal/services"
)

// stubDevices records the last call and answers from fixed values.
type stubDevices struct {
	services.DeviceService
	kind      string
	filter    devicerepo.Filter
	standTest services.StandTestInput
	created   bool
}

func (s *stubDevices) List(_ context.Context, kind string, f devicerepo.Filter, _ pagination.Params) ([]*types.Device, int64, error) {
	s.kind, s.filter = kind, f
	return []*types.Device{{ID: uuid.New(), Kind: "FC"}}, 1, nil
}

func (s *stubDevices) RecordStandTest(_ context.Context, kind string, in services.StandTestInput) (*services.StandTestResult, error) {
	s.kind, s.standTest = kind, in
	return &services.StandTestResult{Device: &types.Device{ID: uuid.New(), Kind: "FC"}, Created: s.created}, nil
}

func (s *stubDevices) AddDefective(_ context.Context, kind string, _ uuid.UUID, count int) (int, error) {
	if count > services.MaxDefectiveBatch {
		return 0, apierr.BadRequest("too many")
	}
	return count, nil
}

func (s *stubDevices) Get(context.Context, string, uuid.UUID) (*types.Device, error) {
	return nil, apierr.NotFound("Устройство не найдено")
}

func newDeviceRouter(stub *stubDevices) http.Handler {
	h := NewDeviceHandler(stub)
	r := testRouter(worker())
	g := r.Group("/api/devices/:kind")
	g.GET("/items", h.List)
	g.GET("/items/:id", h.Get)
	g.POST("/stand-test", h.StandTest)
	g.POST("/bulk-defects", h.AddDefective)
	return r
}

func TestDeviceListFilters(t *testing.T) {
	stub := &stubDevices{}
	r := newDeviceRouter(stub)

	w := do(t, r, http.MethodGet, "/api/devices/elrs-915/items?firmware=true&defective=false&serial=E9&page=1&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "elrs-915", stub.kind)
	require.True(t, *stub.filter.Firmware)
	require.False(t, *stub.filter.Defective)
	require.Equal(t, "E9", stub.filter.Serial)
	require.Nil(t, stub.filter.StandTest)

	var page struct {
		Rows  []types.Device `json:"rows"`
		Count int64          `json:"count"`
		Limit int            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.EqualValues(t, 1, page.Count)
	require.Len(t, page.Rows, 1)
	require.Equal(t, 5, page.Limit)

	w = do(t, r, http.MethodGet, "/api/devices/fc/items?firmware=maybe", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodGet, "/api/devices/fc/items?pcId=nope", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/devices/fc/items/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, r, http.MethodGet, "/api/devices/fc/items/42", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeviceStandTestStatus(t *testing.T) {
	stub := &stubDevices{created: true}
	r := newDeviceRouter(stub)

	w := do(t, r, http.MethodPost, "/api/devices/FC/stand-test", map[string]any{"serial": "FC-9", "passed": true, "firmwareVersion": "4.5"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "FC-9", stub.standTest.Serial)
	require.True(t, stub.standTest.Passed)

	stub.created = false
	w = do(t, r, http.MethodPost, "/api/devices/FC/stand-test", map[string]any{"serial": "FC-9", "passed": false})
	require.Equal(t, http.StatusOK, w.Code, "a known unit is updated in place")

	w = do(t, r, http.MethodPost, "/api/devices/FC/stand-test", map[string]any{"passed": true})
	require.Equal(t, http.StatusBadRequest, w.Code, "serial is required")
	w = do(t, r, http.MethodPost, "/api/devices/FC/stand-test", `{"serial":`)
	require.Equal(t, http.StatusBadRequest, w.Code, "malformed body")
}

func TestDeviceBulkDefects(t *testing.T) {
	r := newDeviceRouter(&stubDevices{})

	w := do(t, r, http.MethodPost, "/api/devices/CORAL_B/bulk-defects", map[string]any{"categoryId": uuid.NewString(), "count": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Created int `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, 3, out.Created)

	w = do(t, r, http.MethodPost, "/api/devices/CORAL_B/bulk-defects", map[string]any{"categoryId": uuid.NewString(), "count": services.MaxDefectiveBatch + 1})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPost, "/api/devices/CORAL_B/bulk-defects", map[string]any{"count": 3})
	require.Equal(t, http.StatusBadRequest, w.Code, "category is required")
}
