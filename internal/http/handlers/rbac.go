package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

type RBACHandler struct {
	rbac services.RBACService
}

func NewRBACHandler(rbac services.RBACService) *RBACHandler {
	return &RBACHandler{rbac: rbac}
}

// GET /api/rbac/roles, GET /api/roles
func (h *RBACHandler) ListRoles(c *gin.Context) {
	roles, err := h.rbac.ListRoles(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, roles)
}

// GET /api/rbac/abilities
func (h *RBACHandler) ListAbilities(c *gin.Context) {
	abilities, err := h.rbac.ListAbilities(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, abilities)
}

// PUT /api/rbac/roles/:id/abilities
func (h *RBACHandler) SetRoleAbilities(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		AbilityIDs []uuid.UUID `json:"abilityIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	role, err := h.rbac.SetRoleAbilities(c.Request.Context(), id, req.AbilityIDs)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, role)
}

// POST /api/roles
func (h *RBACHandler) CreateRole(c *gin.Context) {
	var req services.RoleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	role, err := h.rbac.CreateRole(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, role)
}

// PUT /api/roles/:id
func (h *RBACHandler) UpdateRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req services.RoleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	role, err := h.rbac.UpdateRole(c.Request.Context(), id, req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, role)
}

// DELETE /api/roles/:id
func (h *RBACHandler) DeleteRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.rbac.DeleteRole(c.Request.Context(), id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
