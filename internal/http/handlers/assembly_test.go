package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/services"
)

type stubAssembly struct {
	services.AssemblyService
	qr    string
	step  int
	done  bool
	calls int
}

func (s *stubAssembly) Start(_ context.Context, qr string, _ uuid.UUID) (*types.AssemblyProcess, error) {
	s.qr = qr
	s.calls++
	return &types.AssemblyProcess{ID: uuid.New()}, nil
}

func (s *stubAssembly) SetStep(_ context.Context, id uuid.UUID, index int, done bool) (*types.AssemblyProcess, error) {
	s.step, s.done = index, done
	s.calls++
	return &types.AssemblyProcess{ID: id}, nil
}

func newAssemblyRouter(stub *stubAssembly) http.Handler {
	h := NewAssemblyHandler(stub)
	r := testRouter(worker())
	g := r.Group("/api/assembly")
	g.POST("/processes/start", h.Start)
	g.PUT("/processes/:id/step", h.SetStep)
	return r
}

func TestAssemblyStartBinding(t *testing.T) {
	stub := &stubAssembly{}
	r := newAssemblyRouter(stub)

	w := do(t, r, http.MethodPost, "/api/assembly/processes/start", map[string]any{"qrCode": "KRY-00042", "projectId": uuid.NewString()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "KRY-00042", stub.qr)

	w = do(t, r, http.MethodPost, "/api/assembly/processes/start", map[string]any{"qrCode": "KRY-00042"})
	require.Equal(t, http.StatusBadRequest, w.Code, "project is required")
	w = do(t, r, http.MethodPost, "/api/assembly/processes/start", map[string]any{"projectId": uuid.NewString()})
	require.Equal(t, http.StatusBadRequest, w.Code, "code is required")
	require.Equal(t, 1, stub.calls)
}

func TestAssemblyStepIndexRequired(t *testing.T) {
	stub := &stubAssembly{}
	r := newAssemblyRouter(stub)
	target := "/api/assembly/processes/" + uuid.NewString() + "/step"

	w := do(t, r, http.MethodPut, target, map[string]any{"stepIndex": 0, "isDone": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, 0, stub.step)
	require.True(t, stub.done)

	w = do(t, r, http.MethodPut, target, map[string]any{"isDone": true})
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPut, "/api/assembly/processes/1/step", map[string]any{"stepIndex": 1})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, 1, stub.calls)
}
