package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Task kinds consumed by the enrichment and training workers.
const (
	TaskEnrichCLIP    = "enrich_clip"
	TaskEnrichDINO    = "enrich_dino"
	TaskEnrichVLM     = "enrich_vlm"
	TaskEnrichText    = "enrich_text"
	TaskExportDataset = "export_dataset"
	TaskAugment       = "augment_dataset"
	TaskTraining      = "run_training"
)

// Queue names route GPU-bound work away from cheap tasks.
const (
	QueueGPU      = "gpu"
	QueueDefault  = "default"
	QueueTraining = "training"
)

// TaskRun is one row of the database-backed task queue. Delivery is
// at-least-once: a claimed row that misses heartbeats is reclaimed, so
// every handler must be idempotent.
type TaskRun struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	TaskKind  string    `gorm:"column:task_kind;not null;index" json:"task_kind"`
	Queue     string    `gorm:"not null;default:'default';index" json:"queue"`
	Priority  int       `gorm:"not null;default:0" json:"priority"`

	// Correlates the tasks of one dispatcher submission.
	BatchID uuid.UUID `gorm:"type:uuid;column:batch_id;index" json:"batch_id"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`

	Status      string     `gorm:"not null;default:'queued';index" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	LastError   string     `gorm:"column:last_error" json:"last_error,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	// NotBefore delays retry visibility; a queued row is claimable only
	// once it passes.
	NotBefore   *time.Time `gorm:"column:not_before" json:"not_before,omitempty"`
	LockedAt    *time.Time `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (TaskRun) TableName() string { return "task_runs" }

const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
	TaskStatusSkipped   = "skipped"
)
