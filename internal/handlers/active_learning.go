package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type ActiveLearningHandler struct {
	learning services.ActiveLearningService
	datasets *DatasetHandler
}

func NewActiveLearningHandler(learning services.ActiveLearningService, datasets *DatasetHandler) *ActiveLearningHandler {
	return &ActiveLearningHandler{learning: learning, datasets: datasets}
}

// Suggest ranks the dataset's unannotated items worth labeling next.
func (h *ActiveLearningHandler) Suggest(c *gin.Context) {
	dataset := h.datasets.requireDataset(c, types.RoleViewer)
	if dataset == nil {
		return
	}
	strategy := c.Query("strategy")
	limit := queryInt(c, "limit", 0)
	seed, _ := strconv.ParseInt(c.Query("seed"), 10, 64)

	resp, err := h.learning.Suggest(c.Request.Context(), dataset.ID, strategy, limit, seed)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, resp)
}

// AutoAnnotate turns stored VLM tags into classification annotations.
func (h *ActiveLearningHandler) AutoAnnotate(c *gin.Context) {
	dataset := h.datasets.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	var req struct {
		MinConfidence float64 `json:"min_confidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	result, err := h.learning.AutoAnnotate(c.Request.Context(), dataset.ID, req.MinConfidence)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, result)
}

// Stats reports labeling progress, split into auto and human counts.
func (h *ActiveLearningHandler) Stats(c *gin.Context) {
	dataset := h.datasets.requireDataset(c, types.RoleViewer)
	if dataset == nil {
		return
	}
	stats, err := h.learning.Stats(c.Request.Context(), dataset.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, stats)
}
