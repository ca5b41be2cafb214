package types

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DatasetType string

const (
	DatasetImageClassification  DatasetType = "image_classification"
	DatasetObjectDetection      DatasetType = "object_detection"
	DatasetInstanceSegmentation DatasetType = "instance_segmentation"
	DatasetSemanticSegmentation DatasetType = "semantic_segmentation"
	DatasetImageCaptioning      DatasetType = "image_captioning"
	DatasetVideoClassification  DatasetType = "video_classification"
	DatasetVideoObjectTracking  DatasetType = "video_object_tracking"
	DatasetAudioClassification  DatasetType = "audio_classification"
	DatasetSpeechRecognition    DatasetType = "speech_recognition"
	DatasetTextClassification   DatasetType = "text_classification"
	DatasetNER                  DatasetType = "ner"
	DatasetCustom               DatasetType = "custom"
)

type DatasetStatus string

const (
	DatasetDraft    DatasetStatus = "draft"
	DatasetActive   DatasetStatus = "active"
	DatasetFrozen   DatasetStatus = "frozen"
	DatasetArchived DatasetStatus = "archived"
)

type AnnotationType string

const (
	AnnBBox            AnnotationType = "bbox"
	AnnPolygon         AnnotationType = "polygon"
	AnnPolyline        AnnotationType = "polyline"
	AnnPoint           AnnotationType = "point"
	AnnMask            AnnotationType = "mask"
	AnnClassification  AnnotationType = "classification"
	AnnCaption         AnnotationType = "caption"
	AnnTranscription   AnnotationType = "transcription"
	AnnTemporalSegment AnnotationType = "temporal_segment"
	AnnCustom          AnnotationType = "custom"
)

type AnnotationSource string

const (
	SourceManual    AnnotationSource = "manual"
	SourceAutoVLM   AnnotationSource = "auto_vlm"
	SourceAutoCLIP  AnnotationSource = "auto_clip"
	SourceImported  AnnotationSource = "imported"
	SourceAugmented AnnotationSource = "augmented"
)

var versionTagPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidVersionTag reports whether a tag is acceptable for a dataset version.
func ValidVersionTag(tag string) bool {
	return versionTagPattern.MatchString(tag)
}

type Dataset struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_dataset_project_slug" json:"project_id"`
	Project   *Project  `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProjectID;references:ID" json:"-"`

	Name        string        `gorm:"not null" json:"name"`
	Slug        string        `gorm:"not null;uniqueIndex:ux_dataset_project_slug" json:"slug"`
	Description string        `gorm:"column:description" json:"description,omitempty"`
	DatasetType DatasetType   `gorm:"column:dataset_type;not null" json:"dataset_type"`
	Status      DatasetStatus `gorm:"not null;default:'draft'" json:"status"`

	// {"labels":[{"id":"person","name":"Person","color":"#FF6B6B"}],"attributes":[...]}
	LabelSchema datatypes.JSON `gorm:"column:label_schema;type:jsonb" json:"label_schema"`
	SplitConfig datatypes.JSON `gorm:"column:split_config;type:jsonb" json:"split_config"`

	// {"operations":["hflip","scale"]}
	AugmentationConfig datatypes.JSON `gorm:"column:augmentation_config;type:jsonb" json:"augmentation_config,omitempty"`

	ItemCount      int `gorm:"column:item_count;not null;default:0" json:"item_count"`
	AnnotatedCount int `gorm:"column:annotated_count;not null;default:0" json:"annotated_count"`

	CreatedBy *uuid.UUID `gorm:"type:uuid;column:created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (Dataset) TableName() string { return "datasets" }

type DatasetItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DatasetID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_item_dataset_media" json:"dataset_id"`
	Dataset   *Dataset  `gorm:"constraint:OnDelete:CASCADE;foreignKey:DatasetID;references:ID" json:"-"`
	MediaID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_item_dataset_media;index" json:"media_id"`
	Media     *Media    `gorm:"constraint:OnDelete:CASCADE;foreignKey:MediaID;references:ID" json:"media,omitempty"`

	Split       string     `gorm:"not null;default:'train'" json:"split"`
	Priority    int        `gorm:"not null;default:0" json:"priority"`
	IsAnnotated bool       `gorm:"column:is_annotated;not null;default:false" json:"is_annotated"`
	AssignedTo  *uuid.UUID `gorm:"type:uuid;column:assigned_to" json:"assigned_to,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
}

func (DatasetItem) TableName() string { return "dataset_items" }

type Annotation struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	DatasetItemID uuid.UUID    `gorm:"type:uuid;not null;index" json:"dataset_item_id"`
	DatasetItem   *DatasetItem `gorm:"constraint:OnDelete:CASCADE;foreignKey:DatasetItemID;references:ID" json:"-"`
	MediaID       uuid.UUID    `gorm:"type:uuid;not null;index" json:"media_id"`
	Media         *Media       `gorm:"constraint:OnDelete:CASCADE;foreignKey:MediaID;references:ID" json:"-"`

	AnnotationType AnnotationType `gorm:"column:annotation_type;not null" json:"annotation_type"`
	Label          string         `gorm:"not null" json:"label"`
	Confidence     float64        `gorm:"not null;default:1.0" json:"confidence"`

	// Shape depends on AnnotationType; see quality.Geometry for the typed view.
	Geometry   datatypes.JSON `gorm:"column:geometry;type:jsonb;not null" json:"geometry"`
	Attributes datatypes.JSON `gorm:"column:attributes;type:jsonb" json:"attributes,omitempty"`

	FrameNumber  *int             `gorm:"column:frame_number" json:"frame_number,omitempty"`
	TimestampSec *float64         `gorm:"column:timestamp_sec" json:"timestamp_sec,omitempty"`
	Source       AnnotationSource `gorm:"not null;default:'manual'" json:"source"`

	CreatedBy *uuid.UUID `gorm:"type:uuid;column:created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (Annotation) TableName() string { return "annotations" }

// DatasetVersion is a write-once snapshot of a dataset.
type DatasetVersion struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DatasetID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_version_dataset_tag" json:"dataset_id"`
	Dataset     *Dataset  `gorm:"constraint:OnDelete:CASCADE;foreignKey:DatasetID;references:ID" json:"-"`
	VersionTag  string    `gorm:"column:version_tag;not null;uniqueIndex:ux_version_dataset_tag" json:"version_tag"`
	Description string    `gorm:"column:description" json:"description,omitempty"`

	// {"items":[{"item_id":"…","media_id":"…","split":"train"}],"stats":{…}}
	Snapshot datatypes.JSON `gorm:"column:snapshot;type:jsonb;not null" json:"snapshot"`

	ItemCount    int    `gorm:"column:item_count;not null" json:"item_count"`
	ExportPath   string `gorm:"column:export_path" json:"export_path,omitempty"`
	ExportFormat string `gorm:"column:export_format" json:"export_format,omitempty"`

	CreatedBy *uuid.UUID `gorm:"type:uuid;column:created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
}

func (DatasetVersion) TableName() string { return "dataset_versions" }
