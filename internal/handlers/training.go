package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type TrainingHandler struct {
	training services.TrainingService
	projects services.ProjectService
}

func NewTrainingHandler(training services.TrainingService, projects services.ProjectService) *TrainingHandler {
	return &TrainingHandler{training: training, projects: projects}
}

// requireJob loads a training job and checks the caller's role on its
// project. No membership answers 404.
func (h *TrainingHandler) requireJob(c *gin.Context, minRole types.ProjectRole) *types.TrainingJob {
	id, ok := uuidParam(c, "job_id")
	if !ok {
		return nil
	}
	job, err := h.training.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, apierr.NotFound("training job"))
		return nil
	}
	role, err := h.projects.MemberRole(c.Request.Context(), job.ProjectID, middleware.CurrentUser(c).ID)
	if err != nil {
		RespondError(c, apierr.NotFound("training job"))
		return nil
	}
	if !types.RoleAllows(role, minRole) {
		RespondError(c, apierr.Forbidden("insufficient project role"))
		return nil
	}
	return job
}

func (h *TrainingHandler) Create(c *gin.Context) {
	var input services.CreateTrainingJobInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	userID := middleware.CurrentUser(c).ID
	input.CreatedBy = &userID
	job, err := h.training.Create(c.Request.Context(), middleware.ProjectID(c), input)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, job)
}

func (h *TrainingHandler) List(c *gin.Context) {
	page := queryInt(c, "page", 1)
	perPage := queryInt(c, "per_page", 50)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	status := types.TrainingStatus(c.Query("status"))
	jobs, total, err := h.training.List(c.Request.Context(), middleware.ProjectID(c), status, perPage, (page-1)*perPage)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs, "total": total, "page": page, "per_page": perPage})
}

func (h *TrainingHandler) Get(c *gin.Context) {
	job := h.requireJob(c, types.RoleViewer)
	if job == nil {
		return
	}
	RespondOK(c, job)
}

func (h *TrainingHandler) Cancel(c *gin.Context) {
	job := h.requireJob(c, types.RoleEditor)
	if job == nil {
		return
	}
	cancelled, err := h.training.Cancel(c.Request.Context(), job.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, cancelled)
}
