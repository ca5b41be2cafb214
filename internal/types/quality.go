package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ReviewStatus string

const (
	ReviewPending       ReviewStatus = "pending"
	ReviewApproved      ReviewStatus = "approved"
	ReviewRejected      ReviewStatus = "rejected"
	ReviewNeedsRevision ReviewStatus = "needs_revision"
)

type AnnotationReview struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	AnnotationID uuid.UUID    `gorm:"type:uuid;not null;index" json:"annotation_id"`
	Annotation   *Annotation  `gorm:"constraint:OnDelete:CASCADE;foreignKey:AnnotationID;references:ID" json:"-"`
	ReviewerID   *uuid.UUID   `gorm:"type:uuid;column:reviewer_id" json:"reviewer_id,omitempty"`
	Status       ReviewStatus `gorm:"not null;default:'pending'" json:"status"`
	Comment      string       `gorm:"column:comment" json:"comment,omitempty"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

func (AnnotationReview) TableName() string { return "annotation_reviews" }

type AgreementScore struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DatasetID     uuid.UUID      `gorm:"type:uuid;not null;index:ix_agreement_dataset_item" json:"dataset_id"`
	Dataset       *Dataset       `gorm:"constraint:OnDelete:CASCADE;foreignKey:DatasetID;references:ID" json:"-"`
	DatasetItemID uuid.UUID      `gorm:"type:uuid;not null;index:ix_agreement_dataset_item" json:"dataset_item_id"`
	DatasetItem   *DatasetItem   `gorm:"constraint:OnDelete:CASCADE;foreignKey:DatasetItemID;references:ID" json:"-"`
	AnnotatorIDs  datatypes.JSON `gorm:"column:annotator_ids;type:jsonb;not null" json:"annotator_ids"`
	Metric        string         `gorm:"not null" json:"metric"`
	Score         float64        `gorm:"not null" json:"score"`
	Details       datatypes.JSON `gorm:"column:details;type:jsonb" json:"details,omitempty"`
	ComputedAt    time.Time      `gorm:"column:computed_at;not null" json:"computed_at"`
}

func (AgreementScore) TableName() string { return "agreement_scores" }
