package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type PromptRepo interface {
	Create(ctx context.Context, tx *gorm.DB, prompt *types.IndexingPrompt) error
	List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]types.IndexingPrompt, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IndexingPrompt, error)
	GetDefault(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) (*types.IndexingPrompt, error)
	Update(ctx context.Context, tx *gorm.DB, prompt *types.IndexingPrompt) error
	Delete(ctx context.Context, tx *gorm.DB, id, projectID uuid.UUID) error
}

type promptRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewPromptRepo(db *gorm.DB, log *logger.Logger) PromptRepo {
	return &promptRepo{db: db, log: log.With("repo", "PromptRepo")}
}

func (r *promptRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *promptRepo) Create(ctx context.Context, tx *gorm.DB, prompt *types.IndexingPrompt) error {
	if prompt.ID == uuid.Nil {
		prompt.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(prompt).Error
}

func (r *promptRepo) List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]types.IndexingPrompt, error) {
	var prompts []types.IndexingPrompt
	err := r.conn(tx).WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&prompts).Error
	return prompts, err
}

func (r *promptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IndexingPrompt, error) {
	var prompt types.IndexingPrompt
	if err := r.conn(tx).WithContext(ctx).First(&prompt, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &prompt, nil
}

func (r *promptRepo) GetDefault(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) (*types.IndexingPrompt, error) {
	var prompt types.IndexingPrompt
	err := r.conn(tx).WithContext(ctx).
		Where("project_id = ? AND is_default = ?", projectID, true).
		Order("created_at DESC").
		First(&prompt).Error
	if err != nil {
		return nil, err
	}
	return &prompt, nil
}

func (r *promptRepo) Update(ctx context.Context, tx *gorm.DB, prompt *types.IndexingPrompt) error {
	return r.conn(tx).WithContext(ctx).Save(prompt).Error
}

func (r *promptRepo) Delete(ctx context.Context, tx *gorm.DB, id, projectID uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Delete(&types.IndexingPrompt{}, "id = ? AND project_id = ?", id, projectID).Error
}
