package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type APIKeyRepo interface {
	Create(ctx context.Context, tx *gorm.DB, key *types.APIKey) error
	GetByHash(ctx context.Context, tx *gorm.DB, keyHash string) (*types.APIKey, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]types.APIKey, error)
	TouchLastUsed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Delete(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) error
}

type apiKeyRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewAPIKeyRepo(db *gorm.DB, log *logger.Logger) APIKeyRepo {
	return &apiKeyRepo{db: db, log: log.With("repo", "APIKeyRepo")}
}

func (r *apiKeyRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *apiKeyRepo) Create(ctx context.Context, tx *gorm.DB, key *types.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(key).Error
}

func (r *apiKeyRepo) GetByHash(ctx context.Context, tx *gorm.DB, keyHash string) (*types.APIKey, error) {
	var key types.APIKey
	if err := r.conn(tx).WithContext(ctx).First(&key, "key_hash = ?", keyHash).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *apiKeyRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]types.APIKey, error) {
	var keys []types.APIKey
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.conn(tx).WithContext(ctx).
		Model(&types.APIKey{}).
		Where("id = ?", id).
		Update("last_used", now).Error
}

func (r *apiKeyRepo) Delete(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Delete(&types.APIKey{}, "id = ? AND user_id = ?", id, userID).Error
}
