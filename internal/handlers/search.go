package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/services"
)

type SearchHandler struct {
	search services.SearchService
}

func NewSearchHandler(search services.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req services.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	resp, err := h.search.Search(c.Request.Context(), middleware.ProjectID(c), req)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, resp)
}

func (h *SearchHandler) Similar(c *gin.Context) {
	var req struct {
		MediaID string `json:"media_id"`
		Method  string `json:"method"`
		Limit   int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	mediaID, err := uuid.Parse(req.MediaID)
	if err != nil {
		RespondError(c, apierr.Invalid("media_id must be a UUID"))
		return
	}
	method := services.SimilarMethod(req.Method)
	if method == "" {
		method = services.SimilarCLIP
	}
	resp, err := h.search.Similar(c.Request.Context(), middleware.ProjectID(c), mediaID, method, req.Limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, resp)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
