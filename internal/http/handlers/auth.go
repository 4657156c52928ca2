package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kryptonit/mes-backend/internal/http/response"
	"github.com/kryptonit/mes-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// POST /api/users/registration
func (ah *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Login    string `json:"login" binding:"required"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name"`
		Surname  string `json:"surname"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	token, err := ah.authService.Register(c.Request.Context(), services.RegisterInput{
		Login:    req.Login,
		Password: req.Password,
		Name:     req.Name,
		Surname:  req.Surname,
		Role:     req.Role,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"token": token})
}

// POST /api/users/login
func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Login    string `json:"login" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	token, err := ah.authService.Login(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"token": token})
}

// POST /api/users/logout
func (ah *AuthHandler) Logout(c *gin.Context) {
	if err := ah.authService.Logout(c.Request.Context()); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// GET /api/users/auth
func (ah *AuthHandler) Check(c *gin.Context) {
	principal, token, err := ah.authService.Check(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	out := gin.H{"user": principal, "mode": ah.authService.Mode()}
	if token != "" {
		out["token"] = token
	}
	c.JSON(http.StatusOK, out)
}
