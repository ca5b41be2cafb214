package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type DatasetVersionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, version *types.DatasetVersion) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DatasetVersion, error)
	GetByTag(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, tag string) (*types.DatasetVersion, error)
	List(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) ([]types.DatasetVersion, error)
	SetExport(ctx context.Context, tx *gorm.DB, id uuid.UUID, exportPath, exportFormat string) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type datasetVersionRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewDatasetVersionRepo(db *gorm.DB, log *logger.Logger) DatasetVersionRepo {
	return &datasetVersionRepo{db: db, log: log.With("repo", "DatasetVersionRepo")}
}

func (r *datasetVersionRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *datasetVersionRepo) Create(ctx context.Context, tx *gorm.DB, version *types.DatasetVersion) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(version).Error
}

func (r *datasetVersionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DatasetVersion, error) {
	var version types.DatasetVersion
	if err := r.conn(tx).WithContext(ctx).First(&version, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &version, nil
}

func (r *datasetVersionRepo) GetByTag(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, tag string) (*types.DatasetVersion, error) {
	var version types.DatasetVersion
	err := r.conn(tx).WithContext(ctx).
		First(&version, "dataset_id = ? AND version_tag = ?", datasetID, tag).Error
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (r *datasetVersionRepo) List(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) ([]types.DatasetVersion, error) {
	var versions []types.DatasetVersion
	err := r.conn(tx).WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("created_at DESC").
		Find(&versions).Error
	return versions, err
}

func (r *datasetVersionRepo) SetExport(ctx context.Context, tx *gorm.DB, id uuid.UUID, exportPath, exportFormat string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.DatasetVersion{}).
		Where("id = ?", id).
		Updates(map[string]any{"export_path": exportPath, "export_format": exportFormat}).Error
}

func (r *datasetVersionRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).Delete(&types.DatasetVersion{}, "id = ?", id).Error
}
