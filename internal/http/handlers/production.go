package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	productionrepo "github.com/kryptonit/mes-backend/internal/data/repos/production"
	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

type ProductionHandler struct {
	production services.ProductionService
}

func NewProductionHandler(production services.ProductionService) *ProductionHandler {
	return &ProductionHandler{production: production}
}

type operationTypeRequest struct {
	Name        *string    `json:"name"`
	Code        *string    `json:"code"`
	Description *string    `json:"description"`
	Unit        *string    `json:"unit"`
	NormMinutes *float64   `json:"normMinutes"`
	SectionID   *uuid.UUID `json:"sectionId"`
	IsActive    *bool      `json:"isActive"`
	SortOrder   *int       `json:"sortOrder"`
}

func (r operationTypeRequest) input() services.OperationTypeInput {
	return services.OperationTypeInput{
		Name:        r.Name,
		Code:        r.Code,
		Description: r.Description,
		Unit:        r.Unit,
		NormMinutes: r.NormMinutes,
		SectionID:   r.SectionID,
		IsActive:    r.IsActive,
		SortOrder:   r.SortOrder,
	}
}

// GET /api/production/operation-types
func (h *ProductionHandler) ListOperationTypes(c *gin.Context) {
	rows, err := h.production.ListOperationTypes(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// POST /api/production/operation-types
func (h *ProductionHandler) CreateOperationType(c *gin.Context) {
	var req operationTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	o, err := h.production.CreateOperationType(c.Request.Context(), req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, o)
}

// PUT /api/production/operation-types/:id
func (h *ProductionHandler) UpdateOperationType(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req operationTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	o, err := h.production.UpdateOperationType(c.Request.Context(), id, req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, o)
}

// DELETE /api/production/operation-types/:id
func (h *ProductionHandler) DeleteOperationType(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	deactivated, err := h.production.DeleteOperationType(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true, "deactivated": deactivated})
}

func outputFilter(c *gin.Context) (productionrepo.OutputFilter, error) {
	f := productionrepo.OutputFilter{Status: c.Query("status")}
	var err error
	if f.UserID, err = queryUUID(c, "userId"); err != nil {
		return f, err
	}
	team, err := queryUUID(c, "teamId")
	if err != nil {
		return f, err
	}
	if team != nil {
		f.TeamIDs = []uuid.UUID{*team}
	}
	if f.SectionID, err = queryUUID(c, "sectionId"); err != nil {
		return f, err
	}
	if f.ProjectID, err = queryUUID(c, "projectId"); err != nil {
		return f, err
	}
	if f.OperationTypeID, err = queryUUID(c, "operationTypeId"); err != nil {
		return f, err
	}
	f.DateFrom, f.DateTo, err = dateRange(c)
	return f, err
}

// GET /api/production/outputs
func (h *ProductionHandler) List(c *gin.Context) {
	f, err := outputFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	page := pageParams(c)
	rows, count, err := h.production.List(c.Request.Context(), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/production/outputs/:id
func (h *ProductionHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.production.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, o)
}

type outputRequest struct {
	UserID          *uuid.UUID `json:"userId"`
	Date            *string    `json:"date"`
	ProjectID       *uuid.UUID `json:"projectId"`
	OperationTypeID *uuid.UUID `json:"operationTypeId"`
	ClaimedQty      *int       `json:"claimedQty"`
	Comment         *string    `json:"comment"`
}

func (r outputRequest) input() (services.OutputInput, error) {
	in := services.OutputInput{
		UserID:          r.UserID,
		ProjectID:       r.ProjectID,
		OperationTypeID: r.OperationTypeID,
		ClaimedQty:      r.ClaimedQty,
		Comment:         r.Comment,
	}
	if r.Date != nil {
		d, err := parseDate(*r.Date)
		if err != nil {
			return in, err
		}
		in.Date = d
	}
	return in, nil
}

// POST /api/production/outputs
func (h *ProductionHandler) Create(c *gin.Context) {
	var req outputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	in, err := req.input()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_date", err)
		return
	}
	o, err := h.production.Create(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, o)
}

// PUT /api/production/outputs/:id
func (h *ProductionHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req outputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	in, err := req.input()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_date", err)
		return
	}
	o, err := h.production.Update(c.Request.Context(), id, in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, o)
}

// DELETE /api/production/outputs/:id
func (h *ProductionHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.production.Delete(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

type approveRequest struct {
	IDs         []uuid.UUID       `json:"ids" binding:"required,min=1"`
	Adjustments map[uuid.UUID]int `json:"adjustments"`
}

// POST /api/production/outputs/approve
func (h *ProductionHandler) Approve(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.production.Approve(c.Request.Context(), req.IDs, req.Adjustments)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"processed": n})
}

type rejectRequest struct {
	IDs    []uuid.UUID `json:"ids" binding:"required,min=1"`
	Reason string      `json:"reason"`
}

// POST /api/production/outputs/reject
func (h *ProductionHandler) Reject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.production.Reject(c.Request.Context(), req.IDs, req.Reason)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"processed": n})
}

// GET /api/production/outputs/pending
func (h *ProductionHandler) Pending(c *gin.Context) {
	page := pageParams(c)
	rows, count, err := h.production.Pending(c.Request.Context(), page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/production/summary
func (h *ProductionHandler) Summary(c *gin.Context) {
	f, err := outputFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	rows, err := h.production.Summary(c.Request.Context(), f)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// GET /api/production/matrix
func (h *ProductionHandler) Matrix(c *gin.Context) {
	f, err := outputFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	if f.DateFrom == nil {
		from := time.Now().AddDate(0, 0, -30)
		f.DateFrom = &from
	}
	m, err := h.production.Matrix(c.Request.Context(), f)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, m)
}

// GET /api/production/my-team
func (h *ProductionHandler) MyTeam(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	rows, err := h.production.MyTeam(c.Request.Context(), from, to)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}
