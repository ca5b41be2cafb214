package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/services"
)

type IndexingHandler struct {
	indexing services.IndexingService
}

func NewIndexingHandler(indexing services.IndexingService) *IndexingHandler {
	return &IndexingHandler{indexing: indexing}
}

// Run dispatches the enrichment pipeline. Omitting media_ids targets
// every pending or failed media in the project.
func (h *IndexingHandler) Run(c *gin.Context) {
	var req struct {
		MediaIDs       []uuid.UUID `json:"media_ids"`
		Pipelines      []string    `json:"pipelines"`
		CustomPromptID *uuid.UUID  `json:"custom_prompt_id"`
		Priority       int         `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	result, err := h.indexing.Dispatch(c.Request.Context(), middleware.ProjectID(c), services.DispatchInput{
		MediaIDs:       req.MediaIDs,
		Pipelines:      req.Pipelines,
		CustomPromptID: req.CustomPromptID,
		Priority:       req.Priority,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondAccepted(c, result)
}

// Status reports either one batch (?batch_id=) or the whole project.
func (h *IndexingHandler) Status(c *gin.Context) {
	if raw := c.Query("batch_id"); raw != "" {
		batchID, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, apierr.Invalid("batch_id must be a UUID"))
			return
		}
		stats, err := h.indexing.BatchStats(c.Request.Context(), batchID)
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, stats)
		return
	}
	stats, err := h.indexing.Stats(c.Request.Context(), middleware.ProjectID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, stats)
}
