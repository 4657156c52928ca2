package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	devicerepo "github.com/kryptonit/mes-backend/internal/data/repos/device"
	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

// DeviceHandler serves every device kind under /api/devices/:kind.
type DeviceHandler struct {
	devices services.DeviceService
}

func NewDeviceHandler(devices services.DeviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

type deviceRequest struct {
	Serial          *string    `json:"serial"`
	Firmware        *bool      `json:"firmware"`
	FirmwareVersion *string    `json:"firmwareVersion"`
	StandTest       *bool      `json:"standTest"`
	SAWFilter       *bool      `json:"sawFilter"`
	CategoryID      *uuid.UUID `json:"categoryId"`
	ClearCategory   bool       `json:"clearCategory"`
	SessionID       *uuid.UUID `json:"sessionId"`
	Comment         *string    `json:"comment"`
}

func (r deviceRequest) input() services.DeviceInput {
	return services.DeviceInput{
		Serial:          r.Serial,
		Firmware:        r.Firmware,
		FirmwareVersion: r.FirmwareVersion,
		StandTest:       r.StandTest,
		SAWFilter:       r.SAWFilter,
		CategoryID:      r.CategoryID,
		ClearCategory:   r.ClearCategory,
		SessionID:       r.SessionID,
		Comment:         r.Comment,
	}
}

func deviceFilter(c *gin.Context) (devicerepo.Filter, error) {
	f := devicerepo.Filter{
		Serial:          c.Query("serial"),
		FirmwareVersion: c.Query("firmwareVersion"),
	}
	var err error
	if f.Firmware, err = queryBool(c, "firmware"); err != nil {
		return f, err
	}
	if f.StandTest, err = queryBool(c, "standTest"); err != nil {
		return f, err
	}
	if f.SAWFilter, err = queryBool(c, "sawFilter"); err != nil {
		return f, err
	}
	if f.Defective, err = queryBool(c, "defective"); err != nil {
		return f, err
	}
	if f.CategoryID, err = queryUUID(c, "categoryId"); err != nil {
		return f, err
	}
	if f.PCID, err = queryUUID(c, "pcId"); err != nil {
		return f, err
	}
	if f.UserID, err = queryUUID(c, "userId"); err != nil {
		return f, err
	}
	f.DateFrom, f.DateTo, err = dateRange(c)
	return f, err
}

// GET /api/devices/:kind/items
func (h *DeviceHandler) List(c *gin.Context) {
	f, err := deviceFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	page := pageParams(c)
	rows, count, err := h.devices.List(c.Request.Context(), c.Param("kind"), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/devices/:kind/items/:id
func (h *DeviceHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.devices.Get(c.Request.Context(), c.Param("kind"), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, d)
}

// GET /api/devices/:kind/serial/:serial
func (h *DeviceHandler) GetBySerial(c *gin.Context) {
	d, err := h.devices.GetBySerial(c.Request.Context(), c.Param("kind"), c.Param("serial"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, d)
}

// POST /api/devices/:kind/items
func (h *DeviceHandler) Create(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	d, err := h.devices.Create(c.Request.Context(), c.Param("kind"), req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, d)
}

// PUT /api/devices/:kind/items/:id
func (h *DeviceHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	d, err := h.devices.Update(c.Request.Context(), c.Param("kind"), id, req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, d)
}

// DELETE /api/devices/:kind/items/:id
func (h *DeviceHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.devices.Delete(c.Request.Context(), c.Param("kind"), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// DELETE /api/devices/:kind/serial/:serial
func (h *DeviceHandler) DeleteBySerial(c *gin.Context) {
	if err := h.devices.DeleteBySerial(c.Request.Context(), c.Param("kind"), c.Param("serial")); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

type bulkDefectRequest struct {
	CategoryID uuid.UUID `json:"categoryId" binding:"required"`
	Count      int       `json:"count" binding:"required"`
}

// POST /api/devices/:kind/bulk-defects
func (h *DeviceHandler) AddDefective(c *gin.Context) {
	var req bulkDefectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.devices.AddDefective(c.Request.Context(), c.Param("kind"), req.CategoryID, req.Count)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"created": n})
}

// POST /api/devices/:kind/bulk-defects/delete
func (h *DeviceHandler) RemoveDefective(c *gin.Context) {
	var req bulkDefectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.devices.RemoveDefective(c.Request.Context(), c.Param("kind"), req.CategoryID, req.Count)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": n})
}

// GET /api/devices/:kind/summary
func (h *DeviceHandler) Summary(c *gin.Context) {
	rows, err := h.devices.DefectiveSummary(c.Request.Context(), c.Param("kind"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

type standTestRequest struct {
	Serial          string     `json:"serial" binding:"required"`
	Passed          bool       `json:"passed"`
	CategoryID      *uuid.UUID `json:"categoryId"`
	FirmwareVersion string     `json:"firmwareVersion"`
	Comment         string     `json:"comment"`
}

// POST /api/devices/:kind/stand-test
func (h *DeviceHandler) StandTest(c *gin.Context) {
	var req standTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	res, err := h.devices.RecordStandTest(c.Request.Context(), c.Param("kind"), services.StandTestInput{
		Serial:          req.Serial,
		Passed:          req.Passed,
		CategoryID:      req.CategoryID,
		FirmwareVersion: req.FirmwareVersion,
		Comment:         req.Comment,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if res.Created {
		response.RespondCreated(c, res.Device)
		return
	}
	response.RespondOK(c, res.Device)
}

// GET /api/devices/:kind/items/:id/defects
func (h *DeviceHandler) Defects(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rows, err := h.devices.Defects(c.Request.Context(), c.Param("kind"), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

type openDefectRequest struct {
	CategoryID  *uuid.UUID `json:"categoryId"`
	Description string     `json:"description"`
}

// POST /api/devices/:kind/items/:id/defects
func (h *DeviceHandler) OpenDefect(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req openDefectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	d, err := h.devices.OpenDefect(c.Request.Context(), c.Param("kind"), id, req.CategoryID, req.Description)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, d)
}
