package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	assemblyrepo "github.com/kryptonit/mes-backend/internal/data/repos/assembly"
	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

type AssemblyHandler struct {
	assembly services.AssemblyService
}

func NewAssemblyHandler(assembly services.AssemblyService) *AssemblyHandler {
	return &AssemblyHandler{assembly: assembly}
}

type projectRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

func (r projectRequest) input() services.ProjectInput {
	return services.ProjectInput{Title: r.Title, Description: r.Description, Status: r.Status}
}

// GET /api/assembly/projects
func (h *AssemblyHandler) ListProjects(c *gin.Context) {
	rows, err := h.assembly.ListProjects(c.Request.Context(), c.Query("status"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rows)
}

// GET /api/assembly/projects/:id
func (h *AssemblyHandler) GetProject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.assembly.GetProject(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

// POST /api/assembly/projects
func (h *AssemblyHandler) CreateProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	p, err := h.assembly.CreateProject(c.Request.Context(), req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, p)
}

// PUT /api/assembly/projects/:id
func (h *AssemblyHandler) UpdateProject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	p, err := h.assembly.UpdateProject(c.Request.Context(), id, req.input())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

// DELETE /api/assembly/projects/:id
func (h *AssemblyHandler) DeleteProject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.assembly.DeleteProject(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// GET /api/assembly/projects/:id/recipe
func (h *AssemblyHandler) Recipe(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := h.assembly.RecipeByProject(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rec)
}

type recipeRequest struct {
	Title string `json:"title"`
	Steps []struct {
		Title       string `json:"title"`
		Quantity    int    `json:"quantity"`
		Description string `json:"description"`
	} `json:"steps"`
}

// PUT /api/assembly/projects/:id/recipe
func (h *AssemblyHandler) SaveRecipe(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req recipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	steps := make([]services.RecipeStepInput, 0, len(req.Steps))
	for _, s := range req.Steps {
		steps = append(steps, services.RecipeStepInput{Title: s.Title, Quantity: s.Quantity, Description: s.Description})
	}
	rec, err := h.assembly.UpsertRecipe(c.Request.Context(), id, req.Title, steps)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, rec)
}

type startRequest struct {
	QRCode    string    `json:"qrCode" binding:"required"`
	ProjectID uuid.UUID `json:"projectId" binding:"required"`
}

// POST /api/assembly/processes/start
func (h *AssemblyHandler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	p, err := h.assembly.Start(c.Request.Context(), req.QRCode, req.ProjectID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

// GET /api/assembly/processes/:id
func (h *AssemblyHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.assembly.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

type stepRequest struct {
	Index *int `json:"stepIndex" binding:"required"`
	Done  bool `json:"isDone"`
}

// PUT /api/assembly/processes/:id/step
func (h *AssemblyHandler) SetStep(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	p, err := h.assembly.SetStep(c.Request.Context(), id, *req.Index, req.Done)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

// POST /api/assembly/processes/:id/finish
func (h *AssemblyHandler) Finish(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.assembly.Finish(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

// GET /api/assembly/assembled
func (h *AssemblyHandler) Assembled(c *gin.Context) {
	f := assemblyrepo.ProcessFilter{Status: c.Query("status"), Search: c.Query("search")}
	var err error
	if f.ProjectID, err = queryUUID(c, "projectId"); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	if f.AssemblerID, err = queryUUID(c, "assemblerId"); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_filter", err)
		return
	}
	page := pageParams(c)
	rows, count, err := h.assembly.Assembled(c.Request.Context(), f, page)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	respondPage(c, rows, count, page)
}

// GET /api/assembly/processes/:id/passport
func (h *AssemblyHandler) Passport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.assembly.Passport(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}

type passportEditRequest struct {
	CompletedSteps []int      `json:"completedSteps"`
	AssemblerID    *uuid.UUID `json:"assemblerId"`
	StartTime      *time.Time `json:"startTime"`
	EndTime        *time.Time `json:"endTime"`
}

// PUT /api/assembly/processes/:id/passport
func (h *AssemblyHandler) EditPassport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req passportEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	p, err := h.assembly.EditPassport(c.Request.Context(), id, services.PassportEdit{
		CompletedSteps: req.CompletedSteps,
		AssemblerID:    req.AssemblerID,
		StartedAt:      req.StartTime,
		FinishedAt:     req.EndTime,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, p)
}
