package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type DatasetItemFilter struct {
	Split       string
	IsAnnotated *bool
	AssignedTo  *uuid.UUID
	Limit       int
	Offset      int
}

type DatasetItemRepo interface {
	BulkAdd(ctx context.Context, tx *gorm.DB, items []types.DatasetItem) (int, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DatasetItem, error)
	GetByMedia(ctx context.Context, tx *gorm.DB, datasetID, mediaID uuid.UUID) (*types.DatasetItem, error)
	List(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, filter DatasetItemFilter) ([]types.DatasetItem, int64, error)
	ListAll(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) ([]types.DatasetItem, error)
	Update(ctx context.Context, tx *gorm.DB, item *types.DatasetItem) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	SplitCounts(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) (map[string]int64, error)
}

type datasetItemRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewDatasetItemRepo(db *gorm.DB, log *logger.Logger) DatasetItemRepo {
	return &datasetItemRepo{db: db, log: log.With("repo", "DatasetItemRepo")}
}

func (r *datasetItemRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// BulkAdd inserts items, silently skipping media already in the dataset.
// Returns the number of rows actually inserted.
func (r *datasetItemRepo) BulkAdd(ctx context.Context, tx *gorm.DB, items []types.DatasetItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		if items[i].Split == "" {
			items[i].Split = "train"
		}
	}
	res := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dataset_id"}, {Name: "media_id"}},
			DoNothing: true,
		}).
		Create(&items)
	return int(res.RowsAffected), res.Error
}

func (r *datasetItemRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DatasetItem, error) {
	var item types.DatasetItem
	if err := r.conn(tx).WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *datasetItemRepo) GetByMedia(ctx context.Context, tx *gorm.DB, datasetID, mediaID uuid.UUID) (*types.DatasetItem, error) {
	var item types.DatasetItem
	err := r.conn(tx).WithContext(ctx).
		First(&item, "dataset_id = ? AND media_id = ?", datasetID, mediaID).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *datasetItemRepo) List(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, filter DatasetItemFilter) ([]types.DatasetItem, int64, error) {
	q := r.conn(tx).WithContext(ctx).Model(&types.DatasetItem{}).Where("dataset_id = ?", datasetID)
	if filter.Split != "" {
		q = q.Where("split = ?", filter.Split)
	}
	if filter.IsAnnotated != nil {
		q = q.Where("is_annotated = ?", *filter.IsAnnotated)
	}
	if filter.AssignedTo != nil {
		q = q.Where("assigned_to = ?", *filter.AssignedTo)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var items []types.DatasetItem
	err := q.Order("priority DESC, created_at ASC").
		Limit(limit).
		Offset(max(filter.Offset, 0)).
		Find(&items).Error
	return items, total, err
}

func (r *datasetItemRepo) ListAll(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) ([]types.DatasetItem, error) {
	var items []types.DatasetItem
	err := r.conn(tx).WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *datasetItemRepo) Update(ctx context.Context, tx *gorm.DB, item *types.DatasetItem) error {
	return r.conn(tx).WithContext(ctx).Save(item).Error
}

func (r *datasetItemRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).Delete(&types.DatasetItem{}, "id = ?", id).Error
}

func (r *datasetItemRepo) SplitCounts(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) (map[string]int64, error) {
	type row struct {
		Split string
		Count int64
	}
	var rows []row
	err := r.conn(tx).WithContext(ctx).
		Model(&types.DatasetItem{}).
		Select("split, COUNT(*) AS count").
		Where("dataset_id = ?", datasetID).
		Group("split").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Split] = r.Count
	}
	return out, nil
}
