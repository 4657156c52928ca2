package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	auditrepo "github.com/kryptonit/mes-backend/internal/data/repos/audit"
	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

type AuditHandler struct {
	audit   services.AuditService
	exports services.ExportService
}

func NewAuditHandler(audit services.AuditService, exports services.ExportService) *AuditHandler {
	return &AuditHandler{audit: audit, exports: exports}
}

func auditFilter(c *gin.Context) (auditrepo.Filter, error) {
	f := auditrepo.Filter{Action: c.Query("action"), Entity: c.Query("entity")}
	var err error
	if f.UserID, err = queryUUID(c, "userId"); err != nil {
		return f, err
	}
	if f.DateFrom, f.DateTo, err = dateRange(c); err != nil {
		return f, err
	}
	return f, nil
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	f, err := auditFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	page := pageParams(c)
	rows, count, err := h.audit.List(c.Request.Context(), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/audit/export.xlsx
func (h *AuditHandler) Export(c *gin.Context) {
	f, err := auditFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	out, err := h.exports.AuditXLSX(c.Request.Context(), f)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}
