package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type ReviewRepo interface {
	Create(ctx context.Context, tx *gorm.DB, review *types.AnnotationReview) error
	ListByAnnotation(ctx context.Context, tx *gorm.DB, annotationID uuid.UUID) ([]types.AnnotationReview, error)
	CountByStatus(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) (map[types.ReviewStatus]int64, error)
}

type reviewRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewReviewRepo(db *gorm.DB, log *logger.Logger) ReviewRepo {
	return &reviewRepo{db: db, log: log.With("repo", "ReviewRepo")}
}

func (r *reviewRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *reviewRepo) Create(ctx context.Context, tx *gorm.DB, review *types.AnnotationReview) error {
	if review.ID == uuid.Nil {
		review.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(review).Error
}

func (r *reviewRepo) ListByAnnotation(ctx context.Context, tx *gorm.DB, annotationID uuid.UUID) ([]types.AnnotationReview, error) {
	var reviews []types.AnnotationReview
	err := r.conn(tx).WithContext(ctx).
		Where("annotation_id = ?", annotationID).
		Order("created_at DESC").
		Find(&reviews).Error
	return reviews, err
}

func (r *reviewRepo) CountByStatus(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) (map[types.ReviewStatus]int64, error) {
	type row struct {
		Status types.ReviewStatus
		Count  int64
	}
	var rows []row
	err := r.conn(tx).WithContext(ctx).
		Model(&types.AnnotationReview{}).
		Select("annotation_reviews.status, COUNT(*) AS count").
		Joins("JOIN annotations ON annotations.id = annotation_reviews.annotation_id").
		Joins("JOIN dataset_items ON dataset_items.id = annotations.dataset_item_id").
		Where("dataset_items.dataset_id = ?", datasetID).
		Group("annotation_reviews.status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[types.ReviewStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

type AgreementRepo interface {
	Create(ctx context.Context, tx *gorm.DB, score *types.AgreementScore) error
	ListByDataset(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) ([]types.AgreementScore, error)
	ListByItem(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) ([]types.AgreementScore, error)
	MeanScore(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, metric string) (float64, int64, error)
}

type agreementRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewAgreementRepo(db *gorm.DB, log *logger.Logger) AgreementRepo {
	return &agreementRepo{db: db, log: log.With("repo", "AgreementRepo")}
}

func (r *agreementRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *agreementRepo) Create(ctx context.Context, tx *gorm.DB, score *types.AgreementScore) error {
	if score.ID == uuid.Nil {
		score.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(score).Error
}

func (r *agreementRepo) ListByDataset(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID) ([]types.AgreementScore, error) {
	var scores []types.AgreementScore
	err := r.conn(tx).WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("computed_at DESC").
		Find(&scores).Error
	return scores, err
}

func (r *agreementRepo) ListByItem(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) ([]types.AgreementScore, error) {
	var scores []types.AgreementScore
	err := r.conn(tx).WithContext(ctx).
		Where("dataset_item_id = ?", itemID).
		Order("computed_at DESC").
		Find(&scores).Error
	return scores, err
}

func (r *agreementRepo) MeanScore(ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, metric string) (float64, int64, error) {
	type row struct {
		Mean  float64
		Count int64
	}
	var out row
	err := r.conn(tx).WithContext(ctx).
		Model(&types.AgreementScore{}).
		Select("COALESCE(AVG(score), 0) AS mean, COUNT(*) AS count").
		Where("dataset_id = ? AND metric = ?", datasetID, metric).
		Scan(&out).Error
	return out.Mean, out.Count, err
}
