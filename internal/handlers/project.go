package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type ProjectHandler struct {
	projects services.ProjectService
}

func NewProjectHandler(projects services.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

func (h *ProjectHandler) Create(c *gin.Context) {
	var input services.CreateProjectInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	project, err := h.projects.Create(c.Request.Context(), middleware.CurrentUser(c).ID, input)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, project)
}

func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.projects.ListForUser(c.Request.Context(), middleware.CurrentUser(c).ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"projects": projects})
}

func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.projects.Get(c.Request.Context(), middleware.ProjectID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, project)
}

func (h *ProjectHandler) Update(c *gin.Context) {
	var req struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Settings    datatypes.JSON `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	project, err := h.projects.Update(c.Request.Context(), middleware.ProjectID(c), req.Name, req.Description, req.Settings)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, project)
}

func (h *ProjectHandler) Delete(c *gin.Context) {
	if err := h.projects.Delete(c.Request.Context(), middleware.ProjectID(c)); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}

func (h *ProjectHandler) AddMember(c *gin.Context) {
	var req struct {
		UserID uuid.UUID         `json:"user_id"`
		Role   types.ProjectRole `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	member, err := h.projects.AddMember(c.Request.Context(), middleware.ProjectID(c), req.UserID, req.Role)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, member)
}

func (h *ProjectHandler) ListMembers(c *gin.Context) {
	members, err := h.projects.ListMembers(c.Request.Context(), middleware.ProjectID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"members": members})
}

func (h *ProjectHandler) RemoveMember(c *gin.Context) {
	userID, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}
	if err := h.projects.RemoveMember(c.Request.Context(), middleware.ProjectID(c), userID); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}

func (h *ProjectHandler) CreatePrompt(c *gin.Context) {
	var req struct {
		Name           string `json:"name"`
		PromptTemplate string `json:"prompt_template"`
		ModelName      string `json:"model_name"`
		IsDefault      bool   `json:"is_default"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	prompt := &types.IndexingPrompt{
		ProjectID:      middleware.ProjectID(c),
		Name:           req.Name,
		PromptTemplate: req.PromptTemplate,
		ModelName:      req.ModelName,
		IsDefault:      req.IsDefault,
	}
	if err := h.projects.CreatePrompt(c.Request.Context(), prompt); err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, prompt)
}

func (h *ProjectHandler) ListPrompts(c *gin.Context) {
	prompts, err := h.projects.ListPrompts(c.Request.Context(), middleware.ProjectID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"prompts": prompts})
}

func (h *ProjectHandler) UpdatePrompt(c *gin.Context) {
	promptID, ok := uuidParam(c, "prompt_id")
	if !ok {
		return
	}
	var req struct {
		Name           string `json:"name"`
		PromptTemplate string `json:"prompt_template"`
		ModelName      string `json:"model_name"`
		IsDefault      bool   `json:"is_default"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	prompt := &types.IndexingPrompt{
		ID:             promptID,
		ProjectID:      middleware.ProjectID(c),
		Name:           req.Name,
		PromptTemplate: req.PromptTemplate,
		ModelName:      req.ModelName,
		IsDefault:      req.IsDefault,
	}
	if err := h.projects.UpdatePrompt(c.Request.Context(), prompt); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, prompt)
}

func (h *ProjectHandler) DeletePrompt(c *gin.Context) {
	promptID, ok := uuidParam(c, "prompt_id")
	if !ok {
		return
	}
	if err := h.projects.DeletePrompt(c.Request.Context(), middleware.ProjectID(c), promptID); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}
