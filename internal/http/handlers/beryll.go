package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	"github.com/kryptonit/mes-backend/internal/domain/beryll"
	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

type BeryllHandler struct {
	servers    services.ServerService
	batches    services.BatchService
	checklists services.ChecklistService
	records    services.DefectRecordService
	imports    services.ImportService
	passports  services.PassportExportService
}

type BeryllDeps struct {
	Servers    services.ServerService
	Batches    services.BatchService
	Checklists services.ChecklistService
	Records    services.DefectRecordService
	Imports    services.ImportService
	Passports  services.PassportExportService
}

func NewBeryllHandler(deps BeryllDeps) *BeryllHandler {
	return &BeryllHandler{
		servers:    deps.Servers,
		batches:    deps.Batches,
		checklists: deps.Checklists,
		records:    deps.Records,
		imports:    deps.Imports,
		passports:  deps.Passports,
	}
}

// GET /api/beryll/servers
func (h *BeryllHandler) ListServers(c *gin.Context) {
	f := beryllrepo.ServerFilter{Status: c.Query("status"), Search: c.Query("search")}
	switch raw := strings.TrimSpace(c.Query("batchId")); raw {
	case "":
	case "null":
		f.Unbatched = true
	default:
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
			return
		}
		f.BatchID = &id
	}
	page := pageParams(c)
	rows, count, err := h.servers.List(c.Request.Context(), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/beryll/servers/:id
func (h *BeryllHandler) GetServer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	s, err := h.servers.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, s)
}

// POST /api/beryll/servers
func (h *BeryllHandler) CreateServer(c *gin.Context) {
	var req struct {
		IPAddress       string     `json:"ipAddress"`
		MACAddress      string     `json:"macAddress"`
		Hostname        string     `json:"hostname"`
		SerialNumber    string     `json:"serialNumber"`
		APKSerialNumber string     `json:"apkSerialNumber"`
		BMCAddress      string     `json:"bmcAddress"`
		BatchID         *uuid.UUID `json:"batchId"`
		Notes           string     `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	s, err := h.servers.Create(c.Request.Context(), services.ServerInput{
		IPAddress:       req.IPAddress,
		MACAddress:      req.MACAddress,
		Hostname:        req.Hostname,
		SerialNumber:    req.SerialNumber,
		APKSerialNumber: req.APKSerialNumber,
		BMCAddress:      req.BMCAddress,
		BatchID:         req.BatchID,
		Notes:           req.Notes,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, s)
}

// DELETE /api/beryll/servers/:id
func (h *BeryllHandler) DeleteServer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.servers.Delete(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (h *BeryllHandler) byID(c *gin.Context, step func(*gin.Context, uuid.UUID) (any, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	out, err := step(c, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/beryll/servers/:id/archive
func (h *BeryllHandler) Archive(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.servers.Archive(c.Request.Context(), id)
	})
}

// POST /api/beryll/servers/:id/take
func (h *BeryllHandler) Take(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.servers.Take(c.Request.Context(), id)
	})
}

// POST /api/beryll/servers/:id/release
func (h *BeryllHandler) Release(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.servers.Release(c.Request.Context(), id)
	})
}

// PUT /api/beryll/servers/:id/status
func (h *BeryllHandler) SetStatus(c *gin.Context) {
	var req struct {
		Status string  `json:"status" binding:"required"`
		Notes  *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.servers.SetStatus(c.Request.Context(), id, strings.ToUpper(req.Status), req.Notes)
	})
}

// PUT /api/beryll/servers/:id/notes
func (h *BeryllHandler) SetNotes(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.servers.SetNotes(c.Request.Context(), id, req.Notes)
	})
}

// PUT /api/beryll/servers/:id/serial
func (h *BeryllHandler) SetSerial(c *gin.Context) {
	var req struct {
		APKSerialNumber string `json:"apkSerialNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.servers.SetSerial(c.Request.Context(), id, req.APKSerialNumber)
	})
}

// GET /api/beryll/servers/:id/history
func (h *BeryllHandler) ServerHistory(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.servers.History(c.Request.Context(), id)
	})
}

// GET /api/beryll/history
func (h *BeryllHandler) GlobalHistory(c *gin.Context) {
	f := beryllrepo.HistoryFilter{Action: c.Query("action")}
	var err error
	if f.UserID, err = queryUUID(c, "userId"); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	page := pageParams(c)
	rows, count, err := h.servers.GlobalHistory(c.Request.Context(), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/beryll/servers/:id/components
func (h *BeryllHandler) Components(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.servers.Components(c.Request.Context(), id)
	})
}

// POST /api/beryll/servers/:id/components
func (h *BeryllHandler) AddComponent(c *gin.Context) {
	var req struct {
		Type              string `json:"type" binding:"required"`
		Slot              string `json:"slot"`
		Manufacturer      string `json:"manufacturer"`
		Model             string `json:"model"`
		SerialNumber      string `json:"serialNumber"`
		SerialNumberYadro string `json:"serialNumberYadro"`
		Status            string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.servers.AddComponent(c.Request.Context(), id, services.ComponentInput{
			Type:              req.Type,
			Slot:              req.Slot,
			Manufacturer:      req.Manufacturer,
			Model:             req.Model,
			SerialNumber:      req.SerialNumber,
			SerialNumberYadro: req.SerialNumberYadro,
			Status:            req.Status,
		})
	})
}

// DELETE /api/beryll/components/:id
func (h *BeryllHandler) DeleteComponent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.servers.DeleteComponent(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// GET /api/beryll/servers/:id/checklist
func (h *BeryllHandler) ServerChecklist(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.checklists.ServerChecklist(c.Request.Context(), id)
	})
}

// PUT /api/beryll/servers/:id/checklist/:templateId
func (h *BeryllHandler) SetChecklistItem(c *gin.Context) {
	templateID, ok := pathID(c, "templateId")
	if !ok {
		return
	}
	var req struct {
		Completed bool    `json:"completed"`
		Notes     *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.checklists.SetItem(c.Request.Context(), id, templateID, req.Completed, req.Notes)
	})
}

type templateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	GroupCode   *string `json:"groupCode"`
	SortOrder   *int    `json:"sortOrder"`
	IsRequired  *bool   `json:"isRequired"`
	IsActive    *bool   `json:"isActive"`
}

func (r templateRequest) input() services.TemplateInput {
	return services.TemplateInput{
		Title:       r.Title,
		Description: r.Description,
		GroupCode:   r.GroupCode,
		SortOrder:   r.SortOrder,
		IsRequired:  r.IsRequired,
		IsActive:    r.IsActive,
	}
}

// GET /api/beryll/checklist-templates
func (h *BeryllHandler) ListTemplates(c *gin.Context) {
	rows, err := h.checklists.ListTemplates(c.Request.Context(), c.Query("all") != "true")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// POST /api/beryll/checklist-templates
func (h *BeryllHandler) CreateTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	tpl, err := h.checklists.CreateTemplate(c.Request.Context(), req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, tpl)
}

// PUT /api/beryll/checklist-templates/:id
func (h *BeryllHandler) UpdateTemplate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	tpl, err := h.checklists.UpdateTemplate(c.Request.Context(), id, req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, tpl)
}

// DELETE /api/beryll/checklist-templates/:id
func (h *BeryllHandler) DeleteTemplate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	deactivated, err := h.checklists.DeleteTemplate(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true, "deactivated": deactivated})
}

type batchRequest struct {
	Title         *string `json:"title"`
	Supplier      *string `json:"supplier"`
	DeliveryDate  *string `json:"deliveryDate"`
	Status        *string `json:"status"`
	ExpectedCount *int    `json:"expectedCount"`
	Notes         *string `json:"notes"`
}

func (r batchRequest) input() (services.BatchInput, error) {
	in := services.BatchInput{
		Title:         r.Title,
		Supplier:      r.Supplier,
		Status:        r.Status,
		ExpectedCount: r.ExpectedCount,
		Notes:         r.Notes,
	}
	if r.DeliveryDate != nil {
		d, err := parseDate(*r.DeliveryDate)
		if err != nil {
			return in, err
		}
		in.DeliveryDate = d
	}
	return in, nil
}

// GET /api/beryll/batches
func (h *BeryllHandler) ListBatches(c *gin.Context) {
	rows, err := h.batches.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// GET /api/beryll/batches/:id
func (h *BeryllHandler) GetBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.batches.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, b)
}

// POST /api/beryll/batches
func (h *BeryllHandler) CreateBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	in, err := req.input()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_delivery_date", err)
		return
	}
	b, err := h.batches.Create(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, b)
}

// PUT /api/beryll/batches/:id
func (h *BeryllHandler) UpdateBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	in, err := req.input()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_delivery_date", err)
		return
	}
	b, err := h.batches.Update(c.Request.Context(), id, in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, b)
}

// DELETE /api/beryll/batches/:id
func (h *BeryllHandler) DeleteBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.batches.Delete(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

type serverIDsRequest struct {
	ServerIDs []uuid.UUID `json:"serverIds" binding:"required,min=1"`
}

// POST /api/beryll/batches/:id/assign
func (h *BeryllHandler) AssignToBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req serverIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.batches.Assign(c.Request.Context(), id, req.ServerIDs)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"count": n})
}

// POST /api/beryll/batches/:id/unassign
func (h *BeryllHandler) UnassignFromBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req serverIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.batches.Unassign(c.Request.Context(), id, req.ServerIDs)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"count": n})
}

// GET /api/beryll/reference
func (h *BeryllHandler) Reference(c *gin.Context) {
	response.RespondOK(c, gin.H{
		"serverStatuses": beryll.ServerStatuses,
		"componentTypes": beryll.ComponentTypes,
	})
}
