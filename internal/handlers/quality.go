package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type QualityHandler struct {
	quality  services.QualityService
	datasets *DatasetHandler
}

func NewQualityHandler(quality services.QualityService, datasets *DatasetHandler) *QualityHandler {
	return &QualityHandler{quality: quality, datasets: datasets}
}

func (h *QualityHandler) SubmitReview(c *gin.Context) {
	var req struct {
		AnnotationID uuid.UUID          `json:"annotation_id"`
		Status       types.ReviewStatus `json:"status"`
		Comment      string             `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	userID := middleware.CurrentUser(c).ID
	review, err := h.quality.SubmitReview(c.Request.Context(), req.AnnotationID, &userID, req.Status, req.Comment)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, review)
}

func (h *QualityHandler) ListReviews(c *gin.Context) {
	annotationID, err := uuid.Parse(c.Query("annotation_id"))
	if err != nil {
		RespondError(c, apierr.Invalid("annotation_id query parameter is required"))
		return
	}
	reviews, err := h.quality.ListReviews(c.Request.Context(), annotationID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"reviews": reviews})
}

func (h *QualityHandler) ComputeAgreement(c *gin.Context) {
	dataset := h.datasets.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	run, err := h.quality.ComputeAgreement(c.Request.Context(), dataset.ID, c.Query("metric"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, run)
}

func (h *QualityHandler) Summary(c *gin.Context) {
	dataset := h.datasets.requireDataset(c, types.RoleViewer)
	if dataset == nil {
		return
	}
	summary, err := h.quality.Summary(c.Request.Context(), dataset.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, summary)
}
