package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	beryllrepo "github.com/kryptonit/mes-backend/internal/data/repos/beryll"
	"github.com/kryptonit/mes-backend/internal/http/response"
)

// passportFilter reads the export filter from the query string. batchId
// "null" selects servers outside any batch.
func passportFilter(c *gin.Context) (beryllrepo.ServerFilter, error) {
	f := beryllrepo.ServerFilter{Status: c.Query("status"), Search: c.Query("search")}
	if err := setBatchRef(&f, c.Query("batchId")); err != nil {
		return f, err
	}
	inc, err := queryBool(c, "includeArchived")
	if err != nil {
		return f, err
	}
	f.IncludeArchived = inc != nil && *inc
	f.DateFrom, f.DateTo, err = dateRange(c)
	return f, err
}

func setBatchRef(f *beryllrepo.ServerFilter, raw string) error {
	switch raw = strings.TrimSpace(raw); raw {
	case "":
	case "null":
		f.Unbatched = true
	default:
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid batchId")
		}
		f.BatchID = &id
	}
	return nil
}

type passportExportRequest struct {
	ServerIDs       []uuid.UUID `json:"serverIds"`
	BatchID         *string     `json:"batchId"`
	Status          string      `json:"status"`
	DateFrom        *string     `json:"dateFrom"`
	DateTo          *string     `json:"dateTo"`
	Search          string      `json:"search"`
	IncludeArchived bool        `json:"includeArchived"`
}

func (r passportExportRequest) filter() (beryllrepo.ServerFilter, error) {
	f := beryllrepo.ServerFilter{
		IDs:             r.ServerIDs,
		Status:          r.Status,
		Search:          r.Search,
		IncludeArchived: r.IncludeArchived,
	}
	if r.BatchID != nil {
		if err := setBatchRef(&f, *r.BatchID); err != nil {
			return f, err
		}
	}
	var err error
	if r.DateFrom != nil {
		if f.DateFrom, err = parseDate(*r.DateFrom); err != nil {
			return f, err
		}
	}
	if r.DateTo != nil {
		if f.DateTo, err = parseDate(*r.DateTo); err != nil {
			return f, err
		}
	}
	return f, nil
}

// POST /api/beryll/export/passports
func (h *BeryllHandler) ExportPassports(c *gin.Context) {
	var req passportExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	f, err := req.filter()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	out, err := h.passports.Export(c.Request.Context(), f)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}

// GET /api/beryll/export/passports/stats
func (h *BeryllHandler) PassportStats(c *gin.Context) {
	f, err := passportFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	st, err := h.passports.Stats(c.Request.Context(), f)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, st)
}

// GET /api/beryll/export/passports/preview
func (h *BeryllHandler) PassportPreview(c *gin.Context) {
	f, err := passportFilter(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	p, err := h.passports.Preview(c.Request.Context(), f, limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

// GET /api/beryll/export/passports/single/:id
func (h *BeryllHandler) ExportServerPassport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	out, err := h.passports.ExportServer(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}

// POST /api/beryll/export/passports/selected
func (h *BeryllHandler) ExportSelectedPassports(c *gin.Context) {
	var req struct {
		ServerIDs []uuid.UUID `json:"serverIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	out, err := h.passports.ExportSelected(c.Request.Context(), req.ServerIDs)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}

// GET /api/beryll/export/passports/batch/:batchId
func (h *BeryllHandler) ExportBatchPassports(c *gin.Context) {
	out, err := h.passports.ExportBatch(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondFile(c, out.Filename, out.ContentType, out.Body)
}
