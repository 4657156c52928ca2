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

type movementRequest struct {
	BoxID       uuid.UUID  `json:"boxId" binding:"required"`
	Operation   string     `json:"operation" binding:"required"`
	ToSectionID *uuid.UUID `json:"toSectionId"`
	ToTeamID    *uuid.UUID `json:"toTeamId"`
	StatusAfter string     `json:"statusAfter"`
	DeltaQty    int        `json:"deltaQty"`
	GoodQty     int        `json:"goodQty"`
	ScrapQty    int        `json:"scrapQty"`
	Comment     string     `json:"comment"`
}

func (r movementRequest) input() services.MovementInput {
	return services.MovementInput{
		BoxID:       r.BoxID,
		Operation:   r.Operation,
		ToSectionID: r.ToSectionID,
		ToTeamID:    r.ToTeamID,
		StatusAfter: r.StatusAfter,
		DeltaQty:    r.DeltaQty,
		GoodQty:     r.GoodQty,
		ScrapQty:    r.ScrapQty,
		Comment:     r.Comment,
	}
}

// POST /api/warehouse/movements
func (h *WarehouseHandler) Move(c *gin.Context) {
	var req movementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	res, err := h.movements.Move(c.Request.Context(), req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/warehouse/movements/batch
func (h *WarehouseHandler) MoveBatch(c *gin.Context) {
	var req struct {
		DocNumber string            `json:"docNumber"`
		Items     []movementRequest `json:"items" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	items := make([]services.MovementInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, it.input())
	}
	res, err := h.movements.MoveBatch(c.Request.Context(), req.DocNumber, items)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/warehouse/movements
func (h *WarehouseHandler) ListMovements(c *gin.Context) {
	f := warehouserepo.MovementFilter{Operation: c.Query("operation")}
	var err error
	if f.BoxID, err = queryUUID(c, "boxId"); err == nil {
		if f.SectionID, err = queryUUID(c, "sectionId"); err == nil {
			if f.PerformedByID, err = queryUUID(c, "performedById"); err == nil {
				f.DateFrom, f.DateTo, err = dateRange(c)
			}
		}
	}
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	page := pageParams(c)
	rows, count, err := h.movements.List(c.Request.Context(), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// POST /api/warehouse/supplies
func (h *WarehouseHandler) CreateSupply(c *gin.Context) {
	var req struct {
		DocNumber    string  `json:"docNumber"`
		Supplier     string  `json:"supplier"`
		Status       string  `json:"status"`
		Comment      string  `json:"comment"`
		ExpectedDate *string `json:"expectedDate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	in := services.SupplyInput{
		DocNumber: req.DocNumber,
		Supplier:  req.Supplier,
		Status:    req.Status,
		Comment:   req.Comment,
	}
	if req.ExpectedDate != nil {
		d, err := parseDate(*req.ExpectedDate)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_expected_date", err)
			return
		}
		in.ExpectedDate = d
	}
	supply, err := h.catalog.CreateSupply(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, supply)
}

// GET /api/warehouse/supplies
func (h *WarehouseHandler) ListSupplies(c *gin.Context) {
	page := pageParams(c)
	rows, count, err := h.catalog.ListSupplies(c.Request.Context(), page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/warehouse/supplies/:id/export-csv
func (h *WarehouseHandler) ExportSupplyCSV(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	out, err := h.exports.SupplyCSV(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}

// GET /api/warehouse/limits
func (h *WarehouseHandler) ListLimits(c *gin.Context) {
	limits, err := h.catalog.ListLimits(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, limits)
}

// PUT /api/warehouse/limits
func (h *WarehouseHandler) UpsertLimit(c *gin.Context) {
	var req struct {
		OriginType  string `json:"originType"`
		OriginID    string `json:"originId"`
		Label       string `json:"label" binding:"required"`
		MinQuantity int    `json:"minQuantity" binding:"gte=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	limit, err := h.catalog.UpsertLimit(c.Request.Context(), services.LimitInput{
		OriginType:  req.OriginType,
		OriginID:    req.OriginID,
		Label:       req.Label,
		MinQuantity: req.MinQuantity,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, limit)
}

// DELETE /api/warehouse/limits/:id
func (h *WarehouseHandler) DeleteLimit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteLimit(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// GET /api/warehouse/alerts
func (h *WarehouseHandler) Alerts(c *gin.Context) {
	rows, err := h.catalog.Alerts(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// GET /api/warehouse/documents
func (h *WarehouseHandler) ListDocuments(c *gin.Context) {
	boxID, err := queryUUID(c, "boxId")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	docs, err := h.catalog.ListDocuments(c.Request.Context(), boxID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, docs)
}

// POST /api/warehouse/documents (multipart, optional "file")
func (h *WarehouseHandler) CreateDocument(c *gin.Context) {
	in := services.DocumentInput{
		Number:  c.PostForm("number"),
		Type:    c.PostForm("type"),
		Comment: c.PostForm("comment"),
	}
	if raw := strings.TrimSpace(c.PostForm("boxId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_box_id", err)
			return
		}
		in.BoxID = &id
	}
	date, err := parseDate(c.PostForm("date"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_date", err)
		return
	}
	in.Date = date

	var file *services.DocumentFile
	if fh, err := c.FormFile("file"); err == nil {
		if fh.Size > maxUploadBytes {
			response.RespondError(c, http.StatusBadRequest, "file_too_large", fmt.Errorf("file exceeds %d bytes", maxUploadBytes))
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.RespondAPIError(c, err)
			return
		}
		defer f.Close()
		file = &services.DocumentFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		}
	}
	doc, err := h.catalog.CreateDocument(c.Request.Context(), in, file)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, doc)
}

// GET /api/warehouse/print-history
func (h *WarehouseHandler) PrintHistory(c *gin.Context) {
	page := pageParams(c)
	rows, count, err := h.labels.History(c.Request.Context(), page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/warehouse/label-templates
func (h *WarehouseHandler) ListLabelTemplates(c *gin.Context) {
	rows, err := h.labels.ListTemplates(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// POST /api/warehouse/label-templates
func (h *WarehouseHandler) CreateLabelTemplate(c *gin.Context) {
	var req struct {
		Name     string                   `json:"name" binding:"required"`
		WidthMM  float64                  `json:"widthMm"`
		HeightMM float64                  `json:"heightMm"`
		Layout   []services.LayoutElement `json:"layout"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	tpl, err := h.labels.CreateTemplate(c.Request.Context(), services.LabelTemplateInput{
		Name:     req.Name,
		WidthMM:  req.WidthMM,
		HeightMM: req.HeightMM,
		Layout:   req.Layout,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, tpl)
}

// DELETE /api/warehouse/label-templates/:id
func (h *WarehouseHandler) DeleteLabelTemplate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.labels.DeleteTemplate(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
