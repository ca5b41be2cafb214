package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type UserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, user *types.User) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error)
	GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error)
	Update(ctx context.Context, tx *gorm.DB, user *types.User) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type userRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewUserRepo(db *gorm.DB, log *logger.Logger) UserRepo {
	return &userRepo{db: db, log: log.With("repo", "UserRepo")}
}

func (r *userRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *userRepo) Create(ctx context.Context, tx *gorm.DB, user *types.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(user).Error
}

func (r *userRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error) {
	var user types.User
	if err := r.conn(tx).WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error) {
	var user types.User
	if err := r.conn(tx).WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) Update(ctx context.Context, tx *gorm.DB, user *types.User) error {
	return r.conn(tx).WithContext(ctx).Save(user).Error
}

func (r *userRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).Delete(&types.User{}, "id = ?", id).Error
}
