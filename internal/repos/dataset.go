package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type DatasetRepo interface {
	Create(ctx context.Context, tx *gorm.DB, dataset *types.Dataset) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Dataset, error)
	GetBySlug(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, slug string) (*types.Dataset, error)
	List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]types.Dataset, error)
	Update(ctx context.Context, tx *gorm.DB, dataset *types.Dataset) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	RefreshCounts(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type datasetRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewDatasetRepo(db *gorm.DB, log *logger.Logger) DatasetRepo {
	return &datasetRepo{db: db, log: log.With("repo", "DatasetRepo")}
}

func (r *datasetRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *datasetRepo) Create(ctx context.Context, tx *gorm.DB, dataset *types.Dataset) error {
	if dataset.ID == uuid.Nil {
		dataset.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(dataset).Error
}

func (r *datasetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Dataset, error) {
	var dataset types.Dataset
	if err := r.conn(tx).WithContext(ctx).First(&dataset, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &dataset, nil
}

func (r *datasetRepo) GetBySlug(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, slug string) (*types.Dataset, error) {
	var dataset types.Dataset
	err := r.conn(tx).WithContext(ctx).
		First(&dataset, "project_id = ? AND slug = ?", projectID, slug).Error
	if err != nil {
		return nil, err
	}
	return &dataset, nil
}

func (r *datasetRepo) List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]types.Dataset, error) {
	var datasets []types.Dataset
	err := r.conn(tx).WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&datasets).Error
	return datasets, err
}

func (r *datasetRepo) Update(ctx context.Context, tx *gorm.DB, dataset *types.Dataset) error {
	return r.conn(tx).WithContext(ctx).Save(dataset).Error
}

func (r *datasetRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).Delete(&types.Dataset{}, "id = ?", id).Error
}

// RefreshCounts recomputes the denormalized item counters from the
// item table. Cheap enough to run after any bulk mutation.
func (r *datasetRepo) RefreshCounts(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	dbx := r.conn(tx).WithContext(ctx)

	var itemCount, annotatedCount int64
	if err := dbx.Model(&types.DatasetItem{}).Where("dataset_id = ?", id).Count(&itemCount).Error; err != nil {
		return err
	}
	if err := dbx.Model(&types.DatasetItem{}).
		Where("dataset_id = ? AND is_annotated = ?", id, true).
		Count(&annotatedCount).Error; err != nil {
		return err
	}
	return dbx.Model(&types.Dataset{}).
		Where("id = ?", id).
		Updates(map[string]any{"item_count": itemCount, "annotated_count": annotatedCount}).Error
}
