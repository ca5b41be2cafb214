package handlers

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/pixelbase/pixelbase-backend/internal/jobs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type AugmentationHandler struct {
	datasetService services.DatasetService
	datasets       *DatasetHandler
}

func NewAugmentationHandler(datasetService services.DatasetService, datasets *DatasetHandler) *AugmentationHandler {
	return &AugmentationHandler{datasetService: datasetService, datasets: datasets}
}

type augmentationConfig struct {
	Operations []string `json:"operations"`
}

// Configure stores the operation list on the dataset; Run without an
// explicit list falls back to it.
func (h *AugmentationHandler) Configure(c *gin.Context) {
	dataset := h.datasets.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	var cfg augmentationConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	for _, op := range cfg.Operations {
		if !jobs.ValidAugmentOp(op) {
			RespondError(c, apierr.Invalid("unknown augmentation operation: "+op))
			return
		}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		RespondError(c, err)
		return
	}
	dataset.AugmentationConfig = datatypes.JSON(raw)
	if err := h.datasetService.Update(c.Request.Context(), dataset); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, cfg)
}

func (h *AugmentationHandler) Run(c *gin.Context) {
	dataset := h.datasets.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	var req augmentationConfig
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	operations := req.Operations
	if len(operations) == 0 && len(dataset.AugmentationConfig) > 0 {
		var stored augmentationConfig
		if err := json.Unmarshal(dataset.AugmentationConfig, &stored); err == nil {
			operations = stored.Operations
		}
	}
	if err := h.datasetService.RequestAugmentation(c.Request.Context(), dataset.ID, operations); err != nil {
		RespondError(c, err)
		return
	}
	RespondAccepted(c, gin.H{"status": "queued", "operations": operations})
}
