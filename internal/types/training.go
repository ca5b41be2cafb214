package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TrainingStatus string

const (
	TrainingQueued     TrainingStatus = "queued"
	TrainingPreparing  TrainingStatus = "preparing"
	TrainingRunning    TrainingStatus = "training"
	TrainingEvaluating TrainingStatus = "evaluating"
	TrainingCompleted  TrainingStatus = "completed"
	TrainingFailed     TrainingStatus = "failed"
	TrainingCancelled  TrainingStatus = "cancelled"
)

// IsTerminalTrainingStatus reports whether a job may not transition further.
func IsTerminalTrainingStatus(s TrainingStatus) bool {
	switch s {
	case TrainingCompleted, TrainingFailed, TrainingCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTraining validates training job state changes. The happy
// path is queued, preparing, training (repeatable), evaluating, completed.
// Any non-terminal state may move to failed or cancelled.
func CanTransitionTraining(from, to TrainingStatus) bool {
	if IsTerminalTrainingStatus(from) {
		return false
	}
	switch to {
	case TrainingFailed, TrainingCancelled:
		return true
	case TrainingPreparing:
		return from == TrainingQueued
	case TrainingRunning:
		return from == TrainingPreparing || from == TrainingRunning
	case TrainingEvaluating:
		return from == TrainingRunning
	case TrainingCompleted:
		return from == TrainingEvaluating
	default:
		return false
	}
}

// DefaultBaseModel maps a model type to its default base weights.
func DefaultBaseModel(modelType string) string {
	switch modelType {
	case "image_classifier":
		return "resnet50"
	case "object_detector":
		return "yolov8n"
	case "clip_finetune":
		return "ViT-B/32"
	case "text_classifier":
		return "distilbert-base-uncased"
	default:
		return ""
	}
}

type TrainingJob struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID        uuid.UUID  `gorm:"type:uuid;not null;index:ix_training_project_status" json:"project_id"`
	Project          *Project   `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProjectID;references:ID" json:"-"`
	DatasetID        *uuid.UUID `gorm:"type:uuid;column:dataset_id" json:"dataset_id,omitempty"`
	DatasetVersionID *uuid.UUID `gorm:"type:uuid;column:dataset_version_id" json:"dataset_version_id,omitempty"`

	Name      string `gorm:"not null" json:"name"`
	ModelType string `gorm:"column:model_type;not null" json:"model_type"`
	BaseModel string `gorm:"column:base_model;not null" json:"base_model"`

	Status TrainingStatus `gorm:"not null;default:'queued';index:ix_training_project_status" json:"status"`

	Hyperparameters datatypes.JSON `gorm:"column:hyperparameters;type:jsonb" json:"hyperparameters"`

	CurrentEpoch int            `gorm:"column:current_epoch;not null;default:0" json:"current_epoch"`
	TotalEpochs  int            `gorm:"column:total_epochs;not null;default:0" json:"total_epochs"`
	TrainLoss    *float64       `gorm:"column:train_loss" json:"train_loss,omitempty"`
	ValLoss      *float64       `gorm:"column:val_loss" json:"val_loss,omitempty"`
	Metrics      datatypes.JSON `gorm:"column:metrics;type:jsonb" json:"metrics,omitempty"`

	ModelPath    string `gorm:"column:model_path" json:"model_path,omitempty"`
	ExportFormat string `gorm:"column:export_format" json:"export_format,omitempty"`
	ErrorMessage string `gorm:"column:error_message" json:"error_message,omitempty"`

	CreatedBy   *uuid.UUID `gorm:"type:uuid;column:created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (TrainingJob) TableName() string { return "training_jobs" }
