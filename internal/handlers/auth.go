package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/services"
)

type AuthHandler struct {
	auth services.AuthService
}

func NewAuthHandler(auth services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	user, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		RespondError(c, err)
		return
	}
	token, _, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, gin.H{"access_token": token, "token_type": "bearer", "user": user})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	token, user, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"access_token": token, "token_type": "bearer", "user": user})
}

func (h *AuthHandler) Me(c *gin.Context) {
	RespondOK(c, middleware.CurrentUser(c))
}

func (h *AuthHandler) UpdateMe(c *gin.Context) {
	var req struct {
		FullName string `json:"full_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	user, err := h.auth.UpdateProfile(c.Request.Context(), middleware.CurrentUser(c).ID, req.FullName)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, user)
}

func (h *AuthHandler) CreateAPIKey(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	created, err := h.auth.CreateAPIKey(c.Request.Context(), middleware.CurrentUser(c).ID, req.Name)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, created)
}

func (h *AuthHandler) ListAPIKeys(c *gin.Context) {
	keys, err := h.auth.ListAPIKeys(c.Request.Context(), middleware.CurrentUser(c).ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"api_keys": keys})
}

func (h *AuthHandler) DeleteAPIKey(c *gin.Context) {
	keyID, ok := uuidParam(c, "key_id")
	if !ok {
		return
	}
	if err := h.auth.DeleteAPIKey(c.Request.Context(), middleware.CurrentUser(c).ID, keyID); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}
