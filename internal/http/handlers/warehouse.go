package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

type WarehouseHandler struct {
	boxes        services.BoxService
	movements    services.MovementService
	reservations services.ReservationService
	catalog      services.WarehouseCatalogService
	exports      services.ExportService
	labels       services.LabelService
	analytics    services.AnalyticsService
}

type WarehouseDeps struct {
	Boxes        services.BoxService
	Movements    services.MovementService
	Reservations services.ReservationService
	Catalog      services.WarehouseCatalogService
	Exports      services.ExportService
	Labels       services.LabelService
	Analytics    services.AnalyticsService
}

func NewWarehouseHandler(deps WarehouseDeps) *WarehouseHandler {
	return &WarehouseHandler{
		boxes:        deps.Boxes,
		movements:    deps.Movements,
		reservations: deps.Reservations,
		catalog:      deps.Catalog,
		exports:      deps.Exports,
		labels:       deps.Labels,
		analytics:    deps.Analytics,
	}
}

type boxRequest struct {
	SupplyID    *uuid.UUID `json:"supplyId"`
	SectionID   *uuid.UUID `json:"sectionId"`
	Label       string     `json:"label" binding:"required"`
	OriginType  string     `json:"originType"`
	OriginID    *string    `json:"originId"`
	Quantity    int        `json:"quantity" binding:"gte=0"`
	Unit        string     `json:"unit"`
	KitNumber   string     `json:"kitNumber"`
	ProjectName string     `json:"projectName"`
	BatchName   string     `json:"batchName"`
	Comment     string     `json:"comment"`
}

// POST /api/warehouse/boxes
func (h *WarehouseHandler) CreateBox(c *gin.Context) {
	var req boxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	box, err := h.boxes.Create(c.Request.Context(), services.BoxInput{
		SupplyID:    req.SupplyID,
		SectionID:   req.SectionID,
		Label:       req.Label,
		OriginType:  req.OriginType,
		OriginID:    req.OriginID,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		KitNumber:   req.KitNumber,
		ProjectName: req.ProjectName,
		BatchName:   req.BatchName,
		Comment:     req.Comment,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, box)
}

// POST /api/warehouse/boxes/batch
func (h *WarehouseHandler) CreateBoxBatch(c *gin.Context) {
	var req struct {
		Count            int        `json:"count" binding:"required,min=1,max=1000"`
		Label            string     `json:"label" binding:"required"`
		ProjectName      string     `json:"projectName"`
		BatchName        string     `json:"batchName"`
		OriginType       string     `json:"originType"`
		OriginID         *string    `json:"originId"`
		ItemsPerBox      int        `json:"itemsPerBox"`
		Unit             string     `json:"unit"`
		Status           string     `json:"status"`
		SupplyID         *uuid.UUID `json:"supplyId"`
		CurrentSectionID *uuid.UUID `json:"currentSectionId"`
		CurrentTeamID    *uuid.UUID `json:"currentTeamId"`
		Notes            string     `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	boxes, err := h.boxes.CreateBatch(c.Request.Context(), services.BoxBatchInput{
		Count:            req.Count,
		Label:            req.Label,
		ProjectName:      req.ProjectName,
		BatchName:        req.BatchName,
		OriginType:       req.OriginType,
		OriginID:         req.OriginID,
		ItemsPerBox:      req.ItemsPerBox,
		Unit:             req.Unit,
		Status:           req.Status,
		SupplyID:         req.SupplyID,
		CurrentSectionID: req.CurrentSectionID,
		CurrentTeamID:    req.CurrentTeamID,
		Notes:            req.Notes,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, boxes)
}

// PUT /api/warehouse/boxes/batch
func (h *WarehouseHandler) UpdateBoxBatch(c *gin.Context) {
	var req struct {
		IDs     []uuid.UUID    `json:"ids" binding:"required,min=1"`
		Updates map[string]any `json:"updates" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.boxes.UpdateBatch(c.Request.Context(), req.IDs, req.Updates)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"message": fmt.Sprintf("Обновлено коробок: %d", n), "count": n})
}

// GET /api/warehouse/boxes
func (h *WarehouseHandler) ListBoxes(c *gin.Context) {
	f := warehouserepo.BoxFilter{
		Search:      c.Query("search"),
		Status:      c.Query("status"),
		BatchName:   c.Query("batchName"),
		ProjectName: c.Query("projectName"),
	}
	var err error
	if f.SectionID, err = queryUUID(c, "sectionId"); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	if f.SupplyID, err = queryUUID(c, "supplyId"); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	page := pageParams(c)
	rows, count, err := h.boxes.List(c.Request.Context(), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/warehouse/boxes/by-qr/:qr
func (h *WarehouseHandler) BoxByCode(c *gin.Context) {
	box, err := h.boxes.GetByCode(c.Request.Context(), c.Param("qr"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, box)
}

// GET /api/warehouse/boxes/:id
func (h *WarehouseHandler) BoxDetail(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.boxes.Detail(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// GET /api/warehouse/boxes/:id/label.png
func (h *WarehouseHandler) BoxLabelPNG(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	png, err := h.labels.BoxLabelPNG(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// POST /api/warehouse/boxes/export
func (h *WarehouseHandler) ExportBoxesCSV(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	out, err := h.exports.BoxesCSV(c.Request.Context(), req.IDs)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}

// POST /api/warehouse/boxes/export.xlsx
func (h *WarehouseHandler) ExportBoxesXLSX(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	out, err := h.exports.BoxesXLSX(c.Request.Context(), req.IDs)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}

// POST /api/warehouse/boxes/print-pdf
func (h *WarehouseHandler) PrintBoxLabels(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	pdf, err := h.labels.BoxLabelsPDF(c.Request.Context(), req.IDs)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, "labels.pdf", "application/pdf", pdf)
}

// POST /api/warehouse/boxes/print-special
func (h *WarehouseHandler) PrintSpecial(c *gin.Context) {
	var req struct {
		Template     string                   `json:"template"`
		LabelName    string                   `json:"labelName"`
		Code         string                   `json:"code" binding:"required"`
		PrintCount   int                      `json:"printCount"`
		ProductName  string                   `json:"productName"`
		Quantity     any                      `json:"quantity"`
		Unit         string                   `json:"unit"`
		WidthMM      float64                  `json:"widthMm"`
		HeightMM     float64                  `json:"heightMm"`
		Rotate       bool                     `json:"rotate"`
		CustomLayout []services.LayoutElement `json:"customLayout"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	qty := ""
	if req.Quantity != nil {
		qty = strings.TrimSpace(fmt.Sprint(req.Quantity))
	}
	pdf, _, err := h.labels.PrintSpecial(c.Request.Context(), services.SpecialPrintInput{
		Template:     req.Template,
		LabelName:    req.LabelName,
		Code:         req.Code,
		PrintCount:   req.PrintCount,
		ProductName:  req.ProductName,
		Quantity:     qty,
		Unit:         req.Unit,
		WidthMM:      req.WidthMM,
		HeightMM:     req.HeightMM,
		Rotate:       req.Rotate,
		CustomLayout: req.CustomLayout,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, "special-labels.pdf", "application/pdf", pdf)
}

// POST /api/warehouse/boxes/:id/reserve
func (h *WarehouseHandler) Reserve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Qty       int     `json:"qty"`
		ExpiresAt *string `json:"expiresAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	var raw string
	if req.ExpiresAt != nil {
		raw = *req.ExpiresAt
	}
	expiresAt, err := parseDate(raw)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_expires_at", err)
		return
	}
	box, err := h.reservations.Reserve(c.Request.Context(), id, req.Qty, expiresAt)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, box)
}

// POST /api/warehouse/boxes/:id/release
func (h *WarehouseHandler) Release(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	box, err := h.reservations.Release(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, box)
}

// POST /api/warehouse/boxes/:id/confirm
func (h *WarehouseHandler) Confirm(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Qty *int `json:"qty"`
	}
	// The body is optional: no qty consumes the whole reservation.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondAPIError(c, err)
			return
		}
	}
	box, err := h.reservations.Confirm(c.Request.Context(), id, req.Qty)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, box)
}

// GET /api/warehouse/balance
func (h *WarehouseHandler) Balance(c *gin.Context) {
	rows, err := h.boxes.Balance(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// GET /api/warehouse/analytics/dashboard
func (h *WarehouseHandler) Dashboard(c *gin.Context) {
	d, err := h.analytics.Dashboard(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, d)
}

// GET /api/warehouse/rankings
func (h *WarehouseHandler) Rankings(c *gin.Context) {
	r, err := h.analytics.Rankings(c.Request.Context(), c.DefaultQuery("period", "week"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, r)
}
