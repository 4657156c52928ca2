package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

type StructureHandler struct {
	structure services.StructureService
}

func NewStructureHandler(structure services.StructureService) *StructureHandler {
	return &StructureHandler{structure: structure}
}

type userRefRequest struct {
	UserID *uuid.UUID `json:"userId"`
}

// GET /api/structure
func (h *StructureHandler) Tree(c *gin.Context) {
	sections, err := h.structure.Tree(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, sections)
}

// GET /api/structure/unassigned
func (h *StructureHandler) Unassigned(c *gin.Context) {
	users, err := h.structure.Unassigned(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, users)
}

// POST /api/structure/sections
func (h *StructureHandler) CreateSection(c *gin.Context) {
	var req struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	section, err := h.structure.CreateSection(c.Request.Context(), req.Title, req.Description)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, section)
}

// PUT /api/structure/sections/:id/manager
func (h *StructureHandler) AssignManager(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req userRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	section, err := h.structure.AssignManager(c.Request.Context(), id, req.UserID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, section)
}

// DELETE /api/structure/sections/:id
func (h *StructureHandler) DeleteSection(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.structure.DeleteSection(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// POST /api/structure/teams
func (h *StructureHandler) CreateTeam(c *gin.Context) {
	var req struct {
		Title     string    `json:"title" binding:"required"`
		SectionID uuid.UUID `json:"sectionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	team, err := h.structure.CreateTeam(c.Request.Context(), req.Title, req.SectionID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, team)
}

// PUT /api/structure/teams/:id/lead
func (h *StructureHandler) AssignLead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req userRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	team, err := h.structure.AssignLead(c.Request.Context(), id, req.UserID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, team)
}

// POST /api/structure/teams/:id/members
func (h *StructureHandler) AddMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserID uuid.UUID `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if err := h.structure.AddMember(c.Request.Context(), id, req.UserID); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// DELETE /api/structure/teams/:id/members/:userId
func (h *StructureHandler) RemoveMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	if err := h.structure.RemoveMember(c.Request.Context(), id, userID); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// DELETE /api/structure/teams/:id
func (h *StructureHandler) DeleteTeam(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.structure.DeleteTeam(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
