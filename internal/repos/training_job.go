package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type TrainingJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.TrainingJob) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TrainingJob, error)
	List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, status types.TrainingStatus, limit, offset int) ([]types.TrainingJob, int64, error)
	Update(ctx context.Context, tx *gorm.DB, job *types.TrainingJob) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	CountActive(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) (int64, error)
}

type trainingJobRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewTrainingJobRepo(db *gorm.DB, log *logger.Logger) TrainingJobRepo {
	return &trainingJobRepo{db: db, log: log.With("repo", "TrainingJobRepo")}
}

func (r *trainingJobRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *trainingJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.TrainingJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(job).Error
}

func (r *trainingJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TrainingJob, error) {
	var job types.TrainingJob
	if err := r.conn(tx).WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *trainingJobRepo) List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, status types.TrainingStatus, limit, offset int) ([]types.TrainingJob, int64, error) {
	q := r.conn(tx).WithContext(ctx).Model(&types.TrainingJob{}).Where("project_id = ?", projectID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	var jobs []types.TrainingJob
	err := q.Order("created_at DESC").Limit(limit).Offset(max(offset, 0)).Find(&jobs).Error
	return jobs, total, err
}

func (r *trainingJobRepo) Update(ctx context.Context, tx *gorm.DB, job *types.TrainingJob) error {
	return r.conn(tx).WithContext(ctx).Save(job).Error
}

func (r *trainingJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.TrainingJob{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// CountActive counts jobs that hold or will hold a training slot.
func (r *trainingJobRepo) CountActive(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) (int64, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&types.TrainingJob{}).
		Where("project_id = ? AND status IN ?", projectID, []types.TrainingStatus{
			types.TrainingQueued, types.TrainingPreparing, types.TrainingRunning, types.TrainingEvaluating,
		}).
		Count(&count).Error
	return count, err
}
