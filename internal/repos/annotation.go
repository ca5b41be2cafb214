package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type AnnotationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, annotation *types.Annotation) error
	CreateBatch(ctx context.Context, tx *gorm.DB, annotations []types.Annotation) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Annotation, error)
	ListByItem(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) ([]types.Annotation, error)
	ListByDataset(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) ([]types.Annotation, error)
	Update(ctx context.Context, tx *gorm.DB, annotation *types.Annotation) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	DeleteByItemAndSource(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, source types.AnnotationSource) error
	LabelCounts(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) (map[string]int64, error)
	SourceCounts(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) (map[types.AnnotationSource]int64, error)
}

type annotationRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewAnnotationRepo(db *gorm.DB, log *logger.Logger) AnnotationRepo {
	return &annotationRepo{db: db, log: log.With("repo", "AnnotationRepo")}
}

func (r *annotationRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *annotationRepo) Create(ctx context.Context, tx *gorm.DB, annotation *types.Annotation) error {
	if annotation.ID == uuid.Nil {
		annotation.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(annotation).Error
}

func (r *annotationRepo) CreateBatch(ctx context.Context, tx *gorm.DB, annotations []types.Annotation) error {
	if len(annotations) == 0 {
		return nil
	}
	for i := range annotations {
		if annotations[i].ID == uuid.Nil {
			annotations[i].ID = uuid.New()
		}
	}
	return r.conn(tx).WithContext(ctx).CreateInBatches(&annotations, 200).Error
}

func (r *annotationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Annotation, error) {
	var annotation types.Annotation
	if err := r.conn(tx).WithContext(ctx).First(&annotation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &annotation, nil
}

func (r *annotationRepo) ListByItem(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) ([]types.Annotation, error) {
	var annotations []types.Annotation
	err := r.conn(tx).WithContext(ctx).
		Where("dataset_item_id = ?", itemID).
		Order("created_at ASC").
		Find(&annotations).Error
	return annotations, err
}

func (r *annotationRepo) ListByDataset(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) ([]types.Annotation, error) {
	var annotations []types.Annotation
	err := r.conn(tx).WithContext(ctx).
		Joins("JOIN dataset_items ON dataset_items.id = annotations.dataset_item_id").
		Where("dataset_items.dataset_id = ?", datasetID).
		Order("annotations.created_at ASC").
		Find(&annotations).Error
	return annotations, err
}

func (r *annotationRepo) Update(ctx context.Context, tx *gorm.DB, annotation *types.Annotation) error {
	return r.conn(tx).WithContext(ctx).Save(annotation).Error
}

func (r *annotationRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).Delete(&types.Annotation{}, "id = ?", id).Error
}

// DeleteByItemAndSource clears machine annotations before re-running
// auto-annotation, leaving human work untouched.
func (r *annotationRepo) DeleteByItemAndSource(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, source types.AnnotationSource) error {
	return r.conn(tx).WithContext(ctx).
		Delete(&types.Annotation{}, "dataset_item_id = ? AND source = ?", itemID, source).Error
}

func (r *annotationRepo) LabelCounts(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) (map[string]int64, error) {
	type row struct {
		Label string
		Count int64
	}
	var rows []row
	err := r.conn(tx).WithContext(ctx).
		Model(&types.Annotation{}).
		Select("annotations.label, COUNT(*) AS count").
		Joins("JOIN dataset_items ON dataset_items.id = annotations.dataset_item_id").
		Where("dataset_items.dataset_id = ?", datasetID).
		Group("annotations.label").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Count
	}
	return out, nil
}

func (r *annotationRepo) SourceCounts(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) (map[types.AnnotationSource]int64, error) {
	type row struct {
		Source types.AnnotationSource
		Count  int64
	}
	var rows []row
	err := r.conn(tx).WithContext(ctx).
		Model(&types.Annotation{}).
		Select("annotations.source, COUNT(*) AS count").
		Joins("JOIN dataset_items ON dataset_items.id = annotations.dataset_item_id").
		Where("dataset_items.dataset_id = ?", datasetID).
		Group("annotations.source").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[types.AnnotationSource]int64, len(rows))
	for _, r := range rows {
		out[r.Source] = r.Count
	}
	return out, nil
}
