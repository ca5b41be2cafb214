package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type DatasetHandler struct {
	datasets services.DatasetService
	projects services.ProjectService
}

func NewDatasetHandler(datasets services.DatasetService, projects services.ProjectService) *DatasetHandler {
	return &DatasetHandler{datasets: datasets, projects: projects}
}

// requireDataset loads a dataset by the :dataset_id param and checks
// the caller's role on its project. No membership answers 404.
func (h *DatasetHandler) requireDataset(c *gin.Context, minRole types.ProjectRole) *types.Dataset {
	id, ok := uuidParam(c, "dataset_id")
	if !ok {
		return nil
	}
	dataset, err := h.datasets.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, apierr.NotFound("dataset"))
		return nil
	}
	role, err := h.projects.MemberRole(c.Request.Context(), dataset.ProjectID, middleware.CurrentUser(c).ID)
	if err != nil {
		RespondError(c, apierr.NotFound("dataset"))
		return nil
	}
	if !types.RoleAllows(role, minRole) {
		RespondError(c, apierr.Forbidden("insufficient project role"))
		return nil
	}
	return dataset
}

func (h *DatasetHandler) Create(c *gin.Context) {
	var input services.CreateDatasetInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	dataset, err := h.datasets.Create(c.Request.Context(), middleware.ProjectID(c), input)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, dataset)
}

func (h *DatasetHandler) List(c *gin.Context) {
	datasets, err := h.datasets.List(c.Request.Context(), middleware.ProjectID(c))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"datasets": datasets})
}

func (h *DatasetHandler) Get(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleViewer)
	if dataset == nil {
		return
	}
	RespondOK(c, dataset)
}

func (h *DatasetHandler) Update(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	var req struct {
		Name        string              `json:"name"`
		Description string              `json:"description"`
		Status      types.DatasetStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	if req.Name != "" {
		dataset.Name = req.Name
	}
	if req.Description != "" {
		dataset.Description = req.Description
	}
	if req.Status != "" {
		dataset.Status = req.Status
	}
	if err := h.datasets.Update(c.Request.Context(), dataset); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, dataset)
}

func (h *DatasetHandler) Delete(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleAdmin)
	if dataset == nil {
		return
	}
	if err := h.datasets.Delete(c.Request.Context(), dataset.ID); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}

func (h *DatasetHandler) AddItems(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	var req struct {
		MediaIDs []uuid.UUID `json:"media_ids"`
		Split    string      `json:"split"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	added, err := h.datasets.AddItems(c.Request.Context(), dataset.ID, req.MediaIDs, req.Split)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, gin.H{"added": added})
}

func (h *DatasetHandler) ListItems(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleViewer)
	if dataset == nil {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	filter := repos.DatasetItemFilter{
		Split:  c.Query("split"),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if raw := c.Query("is_annotated"); raw != "" {
		annotated := raw == "true" || raw == "1"
		filter.IsAnnotated = &annotated
	}
	items, total, err := h.datasets.ListItems(c.Request.Context(), dataset.ID, filter)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"items": items, "total": total, "page": page, "per_page": perPage})
}

func (h *DatasetHandler) RemoveItem(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	itemID, ok := uuidParam(c, "item_id")
	if !ok {
		return
	}
	if err := h.datasets.RemoveItem(c.Request.Context(), dataset.ID, itemID); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}

func (h *DatasetHandler) SetItemSplit(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	itemID, ok := uuidParam(c, "item_id")
	if !ok {
		return
	}
	var req struct {
		Split string `json:"split"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	if err := h.datasets.SetItemSplit(c.Request.Context(), dataset.ID, itemID, req.Split); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}

func (h *DatasetHandler) LockItem(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	itemID, ok := uuidParam(c, "item_id")
	if !ok {
		return
	}
	var req struct {
		Locked bool `json:"locked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	h.datasets.LockItem(c.Request.Context(), dataset.ProjectID, itemID, middleware.CurrentUser(c).ID, req.Locked)
	RespondOK(c, gin.H{"locked": req.Locked})
}

func (h *DatasetHandler) CreateAnnotations(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	itemID, ok := uuidParam(c, "item_id")
	if !ok {
		return
	}
	var req struct {
		Annotations []types.Annotation `json:"annotations"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	userID := middleware.CurrentUser(c).ID
	for i := range req.Annotations {
		req.Annotations[i].CreatedBy = &userID
	}
	created, err := h.datasets.CreateAnnotations(c.Request.Context(), dataset.ID, itemID, req.Annotations)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, gin.H{"annotations": created})
}

func (h *DatasetHandler) ListAnnotations(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleViewer)
	if dataset == nil {
		return
	}
	itemID, ok := uuidParam(c, "item_id")
	if !ok {
		return
	}
	annotations, err := h.datasets.ListAnnotations(c.Request.Context(), itemID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"annotations": annotations})
}

func (h *DatasetHandler) UpdateAnnotation(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	annotationID, ok := uuidParam(c, "annotation_id")
	if !ok {
		return
	}
	var annotation types.Annotation
	if err := c.ShouldBindJSON(&annotation); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	annotation.ID = annotationID
	if err := h.datasets.UpdateAnnotation(c.Request.Context(), &annotation); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, annotation)
}

func (h *DatasetHandler) DeleteAnnotation(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	annotationID, ok := uuidParam(c, "annotation_id")
	if !ok {
		return
	}
	if err := h.datasets.DeleteAnnotation(c.Request.Context(), annotationID); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}

func (h *DatasetHandler) CreateVersion(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	var input services.CreateVersionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	userID := middleware.CurrentUser(c).ID
	input.CreatedBy = &userID
	version, err := h.datasets.CreateVersion(c.Request.Context(), dataset.ID, input)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, version)
}

func (h *DatasetHandler) ListVersions(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleViewer)
	if dataset == nil {
		return
	}
	versions, err := h.datasets.ListVersions(c.Request.Context(), dataset.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"versions": versions})
}

func (h *DatasetHandler) RequestExport(c *gin.Context) {
	dataset := h.requireDataset(c, types.RoleEditor)
	if dataset == nil {
		return
	}
	versionID, ok := uuidParam(c, "version_id")
	if !ok {
		return
	}
	var req struct {
		Format string `json:"format"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	if err := h.datasets.RequestExport(c.Request.Context(), dataset.ID, versionID, req.Format); err != nil {
		RespondError(c, err)
		return
	}
	RespondAccepted(c, gin.H{"status": "queued"})
}
