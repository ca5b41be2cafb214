package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type MediaHandler struct {
	media    services.MediaService
	projects services.ProjectService
}

func NewMediaHandler(media services.MediaService, projects services.ProjectService) *MediaHandler {
	return &MediaHandler{media: media, projects: projects}
}

// requireMedia loads a media row and checks the caller's role on its
// project. No membership answers 404, same as a missing row.
func (h *MediaHandler) requireMedia(c *gin.Context, minRole types.ProjectRole) *types.Media {
	id, ok := uuidParam(c, "media_id")
	if !ok {
		return nil
	}
	media, err := h.media.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, apierr.NotFound("media"))
		return nil
	}
	role, err := h.projects.MemberRole(c.Request.Context(), media.ProjectID, middleware.CurrentUser(c).ID)
	if err != nil {
		RespondError(c, apierr.NotFound("media"))
		return nil
	}
	if !types.RoleAllows(role, minRole) {
		RespondError(c, apierr.Forbidden("insufficient project role"))
		return nil
	}
	return media
}

func (h *MediaHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		RespondError(c, apierr.Invalid("multipart form required"))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		RespondError(c, apierr.Invalid("at least one file is required"))
		return
	}
	prompt := c.PostForm("prompt")
	tags := splitTags(c.PostForm("tags"))
	userID := middleware.CurrentUser(c).ID

	results := make([]*services.UploadResult, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			RespondError(c, apierr.Invalid("unreadable file: "+fh.Filename))
			return
		}
		result, err := h.media.Upload(c.Request.Context(), services.UploadInput{
			ProjectID:  middleware.ProjectID(c),
			Filename:   fh.Filename,
			MimeType:   fh.Header.Get("Content-Type"),
			Data:       f,
			Title:      c.PostForm("title"),
			UserTags:   tags,
			Prompt:     prompt,
			UploadedBy: &userID,
		})
		f.Close()
		if err != nil {
			RespondError(c, err)
			return
		}
		results = append(results, result)
	}
	RespondCreated(c, gin.H{"uploads": results})
}

func (h *MediaHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	filter := repos.MediaFilter{
		MediaType:      types.MediaType(c.Query("media_type")),
		IndexingStatus: types.IndexingStatus(c.Query("indexing_status")),
		Tag:            c.Query("tag"),
		Search:         c.Query("search"),
		Limit:          perPage,
		Offset:         (page - 1) * perPage,
	}
	items, total, err := h.media.List(c.Request.Context(), middleware.ProjectID(c), filter)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"media": items, "total": total, "page": page, "per_page": perPage})
}

func (h *MediaHandler) Get(c *gin.Context) {
	media := h.requireMedia(c, types.RoleViewer)
	if media == nil {
		return
	}
	RespondOK(c, media)
}

func (h *MediaHandler) UpdateMetadata(c *gin.Context) {
	media := h.requireMedia(c, types.RoleEditor)
	if media == nil {
		return
	}
	var req struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		UserTags    []string `json:"user_tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	updated, err := h.media.UpdateMetadata(c.Request.Context(), media.ID, req.Title, req.Description, req.UserTags)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, updated)
}

func (h *MediaHandler) Delete(c *gin.Context) {
	media := h.requireMedia(c, types.RoleEditor)
	if media == nil {
		return
	}
	if err := h.media.Delete(c.Request.Context(), media.ID); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}

func (h *MediaHandler) DownloadURL(c *gin.Context) {
	media := h.requireMedia(c, types.RoleViewer)
	if media == nil {
		return
	}
	url, err := h.media.DownloadURL(c.Request.Context(), media.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"url": url})
}

func (h *MediaHandler) AddSource(c *gin.Context) {
	media := h.requireMedia(c, types.RoleEditor)
	if media == nil {
		return
	}
	var req struct {
		SourceType string `json:"source_type"`
		URL        string `json:"url"`
		Title      string `json:"title"`
		Content    string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Invalid("invalid request body"))
		return
	}
	source, err := h.media.AddTextSource(c.Request.Context(), media.ID, req.SourceType, req.URL, req.Title, req.Content)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, source)
}

func (h *MediaHandler) ListSources(c *gin.Context) {
	media := h.requireMedia(c, types.RoleViewer)
	if media == nil {
		return
	}
	sources, err := h.media.ListSources(c.Request.Context(), media.ID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"sources": sources})
}

func (h *MediaHandler) DeleteSource(c *gin.Context) {
	media := h.requireMedia(c, types.RoleEditor)
	if media == nil {
		return
	}
	sourceID, err := uuid.Parse(c.Param("source_id"))
	if err != nil {
		RespondError(c, apierr.NotFound("source"))
		return
	}
	if err := h.media.DeleteSource(c.Request.Context(), media.ID, sourceID); err != nil {
		RespondError(c, err)
		return
	}
	RespondNoContent(c)
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
