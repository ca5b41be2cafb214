package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaText     MediaType = "text"
	MediaDocument MediaType = "document"
)

type IndexingStatus string

const (
	IndexingPending    IndexingStatus = "pending"
	IndexingProcessing IndexingStatus = "processing"
	IndexingCompleted  IndexingStatus = "completed"
	IndexingFailed     IndexingStatus = "failed"
	IndexingPartial    IndexingStatus = "partial"
)

type Media struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index:ix_media_project_type;index:ix_media_project_status" json:"project_id"`
	Project   *Project  `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProjectID;references:ID" json:"-"`

	Filename         string    `gorm:"not null" json:"filename"`
	OriginalFilename string    `gorm:"column:original_filename;not null" json:"original_filename"`
	MediaType        MediaType `gorm:"column:media_type;not null;index:ix_media_project_type" json:"media_type"`
	MimeType         string    `gorm:"column:mime_type;not null" json:"mime_type"`
	FileSize         int64     `gorm:"column:file_size;not null" json:"file_size"`
	ChecksumSHA256   string    `gorm:"column:checksum_sha256;not null;index" json:"checksum_sha256"`
	StoragePath      string    `gorm:"column:storage_path;not null" json:"storage_path"`
	ThumbnailPath    string    `gorm:"column:thumbnail_path" json:"thumbnail_path,omitempty"`

	Width           *int     `gorm:"column:width" json:"width,omitempty"`
	Height          *int     `gorm:"column:height" json:"height,omitempty"`
	DurationSeconds *float64 `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	FPS             *float64 `gorm:"column:fps" json:"fps,omitempty"`
	Codec           string   `gorm:"column:codec" json:"codec,omitempty"`

	IndexingStatus  IndexingStatus `gorm:"column:indexing_status;not null;default:'pending';index:ix_media_project_status" json:"indexing_status"`
	ClipEmbeddingID string         `gorm:"column:clip_embedding_id" json:"clip_embedding_id,omitempty"`
	DinoEmbeddingID string         `gorm:"column:dino_embedding_id" json:"dino_embedding_id,omitempty"`
	TextEmbeddingID string         `gorm:"column:text_embedding_id" json:"text_embedding_id,omitempty"`
	ErrorMessage    string         `gorm:"column:error_message" json:"error_message,omitempty"`

	// AutoTags keeps VLM output order; it is a list, not a set.
	AutoCaption           string         `gorm:"column:auto_caption" json:"auto_caption,omitempty"`
	AutoTags              datatypes.JSON `gorm:"column:auto_tags;type:jsonb" json:"auto_tags,omitempty"`
	CustomIndexingResults datatypes.JSON `gorm:"column:custom_indexing_results;type:jsonb" json:"custom_indexing_results,omitempty"`

	Title       string         `gorm:"column:title" json:"title,omitempty"`
	Description string         `gorm:"column:description" json:"description,omitempty"`
	UserTags    datatypes.JSON `gorm:"column:user_tags;type:jsonb" json:"user_tags,omitempty"`

	UploadedBy *uuid.UUID `gorm:"type:uuid;column:uploaded_by" json:"uploaded_by,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
	IndexedAt  *time.Time `gorm:"column:indexed_at" json:"indexed_at,omitempty"`
}

func (Media) TableName() string { return "media" }

type MediaSource struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MediaID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"media_id"`
	Media           *Media         `gorm:"constraint:OnDelete:CASCADE;foreignKey:MediaID;references:ID" json:"-"`
	SourceType      string         `gorm:"column:source_type;not null" json:"source_type"`
	URL             string         `gorm:"column:url" json:"url,omitempty"`
	Title           string         `gorm:"column:title" json:"title,omitempty"`
	Content         string         `gorm:"column:content" json:"content,omitempty"`
	ContentHash     string         `gorm:"column:content_hash" json:"content_hash,omitempty"`
	Metadata        datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	TextEmbeddingID string         `gorm:"column:text_embedding_id" json:"text_embedding_id,omitempty"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
}

func (MediaSource) TableName() string { return "media_sources" }
