package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/platform/gcs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/platform/qdrant"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

const maxUploadBytes = 512 << 20

type UploadInput struct {
	ProjectID  uuid.UUID
	Filename   string
	MimeType   string
	Data       io.Reader
	Title      string
	UserTags   []string
	Prompt     string
	UploadedBy *uuid.UUID
}

// UploadResult reports whether the checksum matched an existing row.
type UploadResult struct {
	Media     *types.Media `json:"media"`
	Duplicate bool         `json:"duplicate"`
	BatchID   uuid.UUID    `json:"batch_id,omitempty"`
}

type MediaService interface {
	Upload(ctx context.Context, input UploadInput) (*UploadResult, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Media, error)
	List(ctx context.Context, projectID uuid.UUID, filter repos.MediaFilter) ([]types.Media, int64, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, title, description string, userTags []string) (*types.Media, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DownloadURL(ctx context.Context, id uuid.UUID) (string, error)

	AddTextSource(ctx context.Context, mediaID uuid.UUID, sourceType, url, title, content string) (*types.MediaSource, error)
	ListSources(ctx context.Context, mediaID uuid.UUID) ([]types.MediaSource, error)
	DeleteSource(ctx context.Context, mediaID, sourceID uuid.UUID) error
}

type mediaService struct {
	db       *gorm.DB
	log      *logger.Logger
	media    repos.MediaRepo
	sources  repos.MediaSourceRepo
	bucket   gcs.BucketService
	index    qdrant.Index
	indexing IndexingService
}

func NewMediaService(
	db *gorm.DB,
	media repos.MediaRepo,
	sources repos.MediaSourceRepo,
	bucket gcs.BucketService,
	index qdrant.Index,
	indexing IndexingService,
	log *logger.Logger,
) MediaService {
	return &mediaService{
		db:       db,
		log:      log.With("service", "MediaService"),
		media:    media,
		sources:  sources,
		bucket:   bucket,
		index:    index,
		indexing: indexing,
	}
}

// mediaTypeFor classifies by MIME type first, falling back to the
// file extension.
func mediaTypeFor(mimeType, filename string) types.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return types.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return types.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return types.MediaAudio
	case strings.HasPrefix(mimeType, "text/"):
		return types.MediaText
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return types.MediaImage
	case ".mp4", ".mov", ".avi", ".mkv", ".webm":
		return types.MediaVideo
	case ".mp3", ".wav", ".flac", ".ogg", ".m4a":
		return types.MediaAudio
	case ".txt", ".md", ".csv", ".json":
		return types.MediaText
	default:
		return types.MediaDocument
	}
}

func (s *mediaService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	if input.Filename == "" {
		return nil, apierr.Invalid("filename is required")
	}
	data, err := io.ReadAll(io.LimitReader(input.Data, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, apierr.Invalid("upload is empty")
	}
	if len(data) > maxUploadBytes {
		return nil, apierr.TooLarge("upload exceeds the size limit")
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if existing, err := s.media.GetByChecksum(ctx, nil, input.ProjectID, checksum); err == nil {
		return &UploadResult{Media: existing, Duplicate: true}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	mediaType := mediaTypeFor(input.MimeType, input.Filename)
	media := &types.Media{
		ID:               uuid.New(),
		ProjectID:        input.ProjectID,
		OriginalFilename: input.Filename,
		MediaType:        mediaType,
		MimeType:         input.MimeType,
		FileSize:         int64(len(data)),
		ChecksumSHA256:   checksum,
		IndexingStatus:   types.IndexingPending,
		Title:            strings.TrimSpace(input.Title),
		UploadedBy:       input.UploadedBy,
	}
	media.Filename = media.ID.String() + strings.ToLower(filepath.Ext(input.Filename))
	media.StoragePath = gcs.MediaObjectKey(input.ProjectID.String(), media.ID.String(), media.Filename)
	if len(input.UserTags) > 0 {
		raw, err := json.Marshal(normalizeTags(input.UserTags))
		if err != nil {
			return nil, err
		}
		media.UserTags = raw
	}

	var decoded image.Image
	if mediaType == types.MediaImage {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, apierr.Invalid("image could not be decoded")
		}
		decoded = img
		w := img.Bounds().Dx()
		h := img.Bounds().Dy()
		media.Width = &w
		media.Height = &h
	}

	if err := s.bucket.UploadObject(ctx, gcs.BucketCategoryMedia, media.StoragePath, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("upload object: %w", err)
	}
	s.generateThumbnail(ctx, media, decoded)

	result := &UploadResult{Media: media}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.media.Create(ctx, tx, media); err != nil {
			return err
		}
		batchID, err := s.indexing.DispatchMedia(ctx, tx, media, input.Prompt)
		if err != nil {
			return err
		}
		result.BatchID = batchID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Media uploaded",
		"media_id", media.ID.String(),
		"media_type", string(mediaType),
		"bytes", len(data),
	)
	return result, nil
}

// generateThumbnail is best-effort: a media row without a thumbnail is
// still usable, so failures only log.
func (s *mediaService) generateThumbnail(ctx context.Context, media *types.Media, decoded image.Image) {
	var (
		thumb []byte
		err   error
	)
	if decoded != nil {
		thumb, err = renderImageThumbnail(decoded)
	} else {
		thumb, err = renderPlaceholderThumbnail(media.OriginalFilename, media.MediaType)
	}
	if err != nil {
		s.log.Warn("Thumbnail render failed", "media_id", media.ID.String(), "error", err)
		return
	}
	key := gcs.ThumbnailObjectKey(media.ProjectID.String(), media.ID.String())
	if err := s.bucket.UploadObject(ctx, gcs.BucketCategoryMedia, key, bytes.NewReader(thumb)); err != nil {
		s.log.Warn("Thumbnail upload failed", "media_id", media.ID.String(), "error", err)
		return
	}
	media.ThumbnailPath = key
}

func (s *mediaService) Get(ctx context.Context, id uuid.UUID) (*types.Media, error) {
	media, err := s.media.GetByID(ctx, nil, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("media")
	}
	return media, err
}

func (s *mediaService) List(ctx context.Context, projectID uuid.UUID, filter repos.MediaFilter) ([]types.Media, int64, error) {
	return s.media.List(ctx, nil, projectID, filter)
}

func (s *mediaService) UpdateMetadata(ctx context.Context, id uuid.UUID, title, description string, userTags []string) (*types.Media, error) {
	media, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if title != "" {
		fields["title"] = strings.TrimSpace(title)
	}
	if description != "" {
		fields["description"] = strings.TrimSpace(description)
	}
	if userTags != nil {
		raw, err := json.Marshal(normalizeTags(userTags))
		if err != nil {
			return nil, err
		}
		fields["user_tags"] = raw
	}
	if len(fields) == 0 {
		return media, nil
	}
	if err := s.media.UpdateFields(ctx, nil, id, fields); err != nil {
		return nil, err
	}
	return s.media.GetByID(ctx, nil, id)
}

// Delete removes the row, its stored objects, and every vector point.
// Object and index deletions are idempotent, so a retried delete
// converges.
func (s *mediaService) Delete(ctx context.Context, id uuid.UUID) error {
	media, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.media.Delete(ctx, nil, id); err != nil {
		return err
	}
	if err := s.bucket.DeleteObject(ctx, gcs.BucketCategoryMedia, media.StoragePath); err != nil {
		s.log.Warn("Object delete failed", "media_id", id.String(), "error", err)
	}
	if media.ThumbnailPath != "" {
		if err := s.bucket.DeleteObject(ctx, gcs.BucketCategoryMedia, media.ThumbnailPath); err != nil {
			s.log.Warn("Thumbnail delete failed", "media_id", id.String(), "error", err)
		}
	}
	if err := s.index.DeleteByMedia(ctx, id.String()); err != nil {
		s.log.Warn("Index delete failed", "media_id", id.String(), "error", err)
	}
	s.log.Info("Media deleted", "media_id", id.String())
	return nil
}

// downloadURLTTL bounds how long a minted media link stays valid.
const downloadURLTTL = 15 * time.Minute

func (s *mediaService) DownloadURL(ctx context.Context, id uuid.UUID) (string, error) {
	media, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	url, err := s.bucket.SignedURL(gcs.BucketCategoryMedia, media.StoragePath, downloadURLTTL)
	if err != nil {
		return "", fmt.Errorf("sign download url: %w", err)
	}
	return url, nil
}

func (s *mediaService) AddTextSource(ctx context.Context, mediaID uuid.UUID, sourceType, url, title, content string) (*types.MediaSource, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apierr.Invalid("source content is required")
	}
	media, err := s.Get(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(content))
	source := &types.MediaSource{
		ID:          uuid.New(),
		MediaID:     mediaID,
		SourceType:  sourceType,
		URL:         url,
		Title:       title,
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.sources.Create(ctx, tx, source); err != nil {
			return err
		}
		return s.indexing.DispatchText(ctx, tx, media, source.ID)
	})
	if err != nil {
		return nil, err
	}
	return source, nil
}

func (s *mediaService) ListSources(ctx context.Context, mediaID uuid.UUID) ([]types.MediaSource, error) {
	return s.sources.ListByMedia(ctx, nil, mediaID)
}

func (s *mediaService) DeleteSource(ctx context.Context, mediaID, sourceID uuid.UUID) error {
	source, err := s.sources.GetByID(ctx, nil, sourceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierr.NotFound("source")
		}
		return err
	}
	if source.MediaID != mediaID {
		return apierr.NotFound("source")
	}
	if err := s.sources.Delete(ctx, nil, sourceID); err != nil {
		return err
	}
	if err := s.index.DeleteBySource(ctx, mediaID.String(), sourceID.String()); err != nil {
		s.log.Warn("Index source delete failed", "source_id", sourceID.String(), "error", err)
	}
	return nil
}

// normalizeTags lowercases and trims, preserving order and duplicates
// the way VLM tags are handled.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
