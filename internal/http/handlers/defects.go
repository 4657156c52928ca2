package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	defectrepo "github.com/kryptonit/mes-backend/internal/data/repos/defect"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/domain/defect"
	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

type DefectHandler struct {
	defects services.DefectService
}

func NewDefectHandler(defects services.DefectService) *DefectHandler {
	return &DefectHandler{defects: defects}
}

type categoryRequest struct {
	Code            *string  `json:"code"`
	Title           *string  `json:"title"`
	Description     *string  `json:"description"`
	Severity        *string  `json:"severity"`
	ApplicableTypes []string `json:"applicableTypes"`
	IsActive        *bool    `json:"isActive"`
}

func (r categoryRequest) input() services.CategoryInput {
	return services.CategoryInput{
		Code:            r.Code,
		Title:           r.Title,
		Description:     r.Description,
		Severity:        r.Severity,
		ApplicableTypes: r.ApplicableTypes,
		IsActive:        r.IsActive,
	}
}

// GET /api/defects/categories
func (h *DefectHandler) ListCategories(c *gin.Context) {
	rows, err := h.defects.ListCategories(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// POST /api/defects/categories
func (h *DefectHandler) CreateCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	cat, err := h.defects.CreateCategory(c.Request.Context(), req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, cat)
}

// PUT /api/defects/categories/:id
func (h *DefectHandler) UpdateCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	cat, err := h.defects.UpdateCategory(c.Request.Context(), id, req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, cat)
}

// DELETE /api/defects/categories/:id
func (h *DefectHandler) DeleteCategory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	deactivated, err := h.defects.DeleteCategory(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true, "deactivated": deactivated})
}

func boardDefectFilter(c *gin.Context) (defectrepo.BoardDefectFilter, error) {
	f := defectrepo.BoardDefectFilter{
		Status:       c.Query("status"),
		BoardType:    c.Query("boardType"),
		SerialNumber: c.Query("serialNumber"),
	}
	var err error
	if f.CategoryID, err = queryUUID(c, "categoryId"); err != nil {
		return f, err
	}
	f.DateFrom, f.DateTo, err = dateRange(c)
	return f, err
}

// GET /api/defects
func (h *DefectHandler) List(c *gin.Context) {
	f, err := boardDefectFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	page := pageParams(c)
	rows, count, err := h.defects.List(c.Request.Context(), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/defects/statistics
func (h *DefectHandler) Statistics(c *gin.Context) {
	st, err := h.defects.Statistics(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, st)
}

// GET /api/defects/export.xlsx
func (h *DefectHandler) Export(c *gin.Context) {
	f, err := boardDefectFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	out, err := h.defects.ExportXLSX(c.Request.Context(), f)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}

// GET /api/defects/:id
func (h *DefectHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.defects.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, d)
}

// POST /api/defects
func (h *DefectHandler) Create(c *gin.Context) {
	var req struct {
		BoardType    string     `json:"boardType" binding:"required"`
		BoardID      *string    `json:"boardId"`
		SerialNumber string     `json:"serialNumber"`
		CategoryID   *uuid.UUID `json:"categoryId"`
		Description  string     `json:"description"`
		DetectedAt   *string    `json:"detectedAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	in := services.BoardDefectInput{
		BoardType:    req.BoardType,
		BoardID:      req.BoardID,
		SerialNumber: req.SerialNumber,
		CategoryID:   req.CategoryID,
		Description:  req.Description,
	}
	if req.DetectedAt != nil {
		t, err := parseDate(*req.DetectedAt)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_detected_at", err)
			return
		}
		in.DetectedAt = t
	}
	d, err := h.defects.Create(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, d)
}

// PATCH /api/defects/:id/status
func (h *DefectHandler) ChangeStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status      string  `json:"status" binding:"required"`
		FinalResult *string `json:"finalResult"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	d, err := h.defects.ChangeStatus(c.Request.Context(), id, strings.ToUpper(req.Status), req.FinalResult)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, d)
}

// GET /api/defects/:id/repairs
func (h *DefectHandler) Repairs(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rows, err := h.defects.Repairs(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// POST /api/defects/:id/repairs
func (h *DefectHandler) AddRepair(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		ActionType       string  `json:"actionType" binding:"required"`
		Description      string  `json:"description"`
		TimeSpentMinutes int     `json:"timeSpentMinutes" binding:"gte=0"`
		Result           string  `json:"result"`
		PerformedAt      *string `json:"performedAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	in := services.RepairInput{
		ActionType:       req.ActionType,
		Description:      req.Description,
		TimeSpentMinutes: req.TimeSpentMinutes,
		Result:           req.Result,
	}
	if req.PerformedAt != nil {
		t, err := parseDate(*req.PerformedAt)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_performed_at", err)
			return
		}
		in.PerformedAt = t
	}
	action, err := h.defects.AddRepair(c.Request.Context(), id, in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, action)
}

// transition runs a single-step quick action that takes no body.
func (h *DefectHandler) transition(c *gin.Context, step func(context.Context, uuid.UUID) (*types.BoardDefect, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := step(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, d)
}

// POST /api/defects/:id/repaired
func (h *DefectHandler) MarkRepaired(c *gin.Context) { h.transition(c, h.defects.MarkRepaired) }

// POST /api/defects/:id/scrap
func (h *DefectHandler) Scrap(c *gin.Context) { h.transition(c, h.defects.Scrap) }

// POST /api/defects/:id/verify
func (h *DefectHandler) Verify(c *gin.Context) { h.transition(c, h.defects.Verify) }

// POST /api/defects/:id/false-positive
func (h *DefectHandler) FalsePositive(c *gin.Context) { h.transition(c, h.defects.FalsePositive) }

// GET /api/defects/reference
func (h *DefectHandler) Reference(c *gin.Context) {
	response.RespondOK(c, gin.H{
		"statuses":     defect.Statuses,
		"finalResults": []string{defect.ResultFixed, defect.ResultScrapped, defect.ResultReturnedToSupplier, defect.ResultFalsePositive},
		"actionTypes":  defect.ActionTypes,
		"results":      defect.RepairResults,
		"severities":   []string{defect.SeverityCritical, defect.SeverityMajor, defect.SeverityMinor},
	})
}
