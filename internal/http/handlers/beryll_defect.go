package handlers

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

func defectRecordFilter(c *gin.Context) (beryllrepo.DefectRecordFilter, error) {
	f := beryllrepo.DefectRecordFilter{
		Status:         c.Query("status"),
		RepairPartType: c.Query("repairPartType"),
		Search:         c.Query("search"),
		OnlyActive:     c.Query("onlyActive") == "true",
	}
	var err error
	if f.ServerID, err = queryUUID(c, "serverId"); err != nil {
		return f, err
	}
	if f.IsRepeated, err = queryBool(c, "isRepeated"); err != nil {
		return f, err
	}
	f.DateFrom, f.DateTo, err = dateRange(c)
	return f, err
}

// GET /api/beryll/defect-records
func (h *BeryllHandler) ListDefectRecords(c *gin.Context) {
	f, err := defectRecordFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	page := pageParams(c)
	rows, count, err := h.records.List(c.Request.Context(), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/beryll/defect-records/stats
func (h *BeryllHandler) DefectRecordStats(c *gin.Context) {
	st, err := h.records.Stats(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, st)
}

// GET /api/beryll/defect-records/part-types
func (h *BeryllHandler) PartTypes(c *gin.Context) {
	response.RespondOK(c, h.records.PartTypes())
}

// GET /api/beryll/defect-records/statuses
func (h *BeryllHandler) DefectStatuses(c *gin.Context) {
	response.RespondOK(c, h.records.Statuses())
}

// GET /api/beryll/defect-records/export.xlsx
func (h *BeryllHandler) ExportDefectRecords(c *gin.Context) {
	f, err := defectRecordFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	out, err := h.records.ExportXLSX(c.Request.Context(), f)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}

// GET /api/beryll/defect-records/:id
func (h *BeryllHandler) GetDefectRecord(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.Get(c.Request.Context(), id)
	})
}

// GET /api/beryll/defect-records/:id/actions
func (h *BeryllHandler) DefectRecordActions(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.Actions(c.Request.Context(), id)
	})
}

// POST /api/beryll/defect-records
func (h *BeryllHandler) CreateDefectRecord(c *gin.Context) {
	var req struct {
		ServerID              uuid.UUID `json:"serverId" binding:"required"`
		YadroTicketNumber     string    `json:"yadroTicketNumber"`
		HasSPISI              bool      `json:"hasSPISI"`
		ClusterCode           string    `json:"clusterCode"`
		ProblemDescription    string    `json:"problemDescription"`
		RepairPartType        string    `json:"repairPartType"`
		DefectPartSerialYadro string    `json:"defectPartSerialYadro"`
		DefectPartSerialManuf string    `json:"defectPartSerialManuf"`
		Priority              string    `json:"priority"`
		Notes                 string    `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	rec, err := h.records.Create(c.Request.Context(), services.DefectRecordInput{
		ServerID:              req.ServerID,
		YadroTicketNumber:     req.YadroTicketNumber,
		HasSPISI:              req.HasSPISI,
		ClusterCode:           req.ClusterCode,
		ProblemDescription:    req.ProblemDescription,
		RepairPartType:        req.RepairPartType,
		DefectPartSerialYadro: req.DefectPartSerialYadro,
		DefectPartSerialManuf: req.DefectPartSerialManuf,
		Priority:              req.Priority,
		Notes:                 req.Notes,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, rec)
}

// POST /api/beryll/defect-records/:id/start-diagnosis
func (h *BeryllHandler) StartDiagnosis(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.StartDiagnosis(c.Request.Context(), id)
	})
}

// POST /api/beryll/defect-records/:id/complete-diagnosis
func (h *BeryllHandler) CompleteDiagnosis(c *gin.Context) {
	var req struct {
		RepairPartType *string `json:"repairPartType"`
		RepairDetails  *string `json:"repairDetails"`
		Notes          *string `json:"notes"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondAPIError(c, err)
			return
		}
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.CompleteDiagnosis(c.Request.Context(), id, services.DiagnosisInput{
			RepairPartType: req.RepairPartType,
			RepairDetails:  req.RepairDetails,
			Notes:          req.Notes,
		})
	})
}

// POST /api/beryll/defect-records/:id/start-repair
func (h *BeryllHandler) StartRepair(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.StartRepair(c.Request.Context(), id)
	})
}

// POST /api/beryll/defect-records/:id/send-to-yadro
func (h *BeryllHandler) SendToYadro(c *gin.Context) {
	var req struct {
		TicketNumber string `json:"ticketNumber"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondAPIError(c, err)
			return
		}
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.SendToYadro(c.Request.Context(), id, req.TicketNumber)
	})
}

// POST /api/beryll/defect-records/:id/return-from-yadro
func (h *BeryllHandler) ReturnFromYadro(c *gin.Context) {
	var req struct {
		ReplacementSerialYadro *string `json:"replacementPartSerialYadro"`
		ReplacementSerialManuf *string `json:"replacementPartSerialManuf"`
		Resolution             *string `json:"resolution"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondAPIError(c, err)
			return
		}
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.ReturnFromYadro(c.Request.Context(), id, services.YadroReturnInput{
			ReplacementSerialYadro: req.ReplacementSerialYadro,
			ReplacementSerialManuf: req.ReplacementSerialManuf,
			Resolution:             req.Resolution,
		})
	})
}

// POST /api/beryll/defect-records/:id/issue-substitute
func (h *BeryllHandler) IssueSubstitute(c *gin.Context) {
	var req struct {
		SubstituteServerID uuid.UUID `json:"substituteServerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.IssueSubstitute(c.Request.Context(), id, req.SubstituteServerID)
	})
}

// POST /api/beryll/defect-records/:id/return-substitute
func (h *BeryllHandler) ReturnSubstitute(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.ReturnSubstitute(c.Request.Context(), id)
	})
}

// POST /api/beryll/defect-records/:id/resolve
func (h *BeryllHandler) Resolve(c *gin.Context) {
	var req struct {
		Resolution string  `json:"resolution" binding:"required"`
		Notes      *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.Resolve(c.Request.Context(), id, req.Resolution, req.Notes)
	})
}

// POST /api/beryll/defect-records/:id/close
func (h *BeryllHandler) CloseDefectRecord(c *gin.Context) {
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.Close(c.Request.Context(), id)
	})
}

// PUT /api/beryll/defect-records/:id/status
func (h *BeryllHandler) ChangeDefectRecordStatus(c *gin.Context) {
	var req struct {
		Status  string `json:"status" binding:"required"`
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.byID(c, func(c *gin.Context, id uuid.UUID) (any, error) {
		return h.records.ChangeStatus(c.Request.Context(), id, strings.ToUpper(req.Status), req.Comment)
	})
}

func importOptions(c *gin.Context) services.ImportOptions {
	return services.ImportOptions{
		DryRun:       formBool(c, "dryRun") || c.Query("dryRun") == "true",
		SkipExisting: formBool(c, "skipExisting") || c.Query("skipExisting") == "true",
	}
}

// POST /api/beryll/import/components (multipart "file")
func (h *BeryllHandler) ImportComponents(c *gin.Context) {
	raw, _, err := readUpload(c, "file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	res, err := h.imports.ImportComponents(c.Request.Context(), bytes.NewReader(raw), importOptions(c))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/beryll/import/defects (multipart "file")
func (h *BeryllHandler) ImportDefects(c *gin.Context) {
	raw, _, err := readUpload(c, "file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	res, err := h.imports.ImportDefects(c.Request.Context(), bytes.NewReader(raw), importOptions(c))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}
