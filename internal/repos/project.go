package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type ProjectRepo interface {
	Create(ctx context.Context, tx *gorm.DB, project *types.Project) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Project, error)
	GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Project, error)
	ListForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]types.Project, error)
	Update(ctx context.Context, tx *gorm.DB, project *types.Project) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type projectRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewProjectRepo(db *gorm.DB, log *logger.Logger) ProjectRepo {
	return &projectRepo{db: db, log: log.With("repo", "ProjectRepo")}
}

func (r *projectRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *projectRepo) Create(ctx context.Context, tx *gorm.DB, project *types.Project) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(project).Error
}

func (r *projectRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Project, error) {
	var project types.Project
	if err := r.conn(tx).WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *projectRepo) GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Project, error) {
	var project types.Project
	if err := r.conn(tx).WithContext(ctx).First(&project, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *projectRepo) ListForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]types.Project, error) {
	var projects []types.Project
	err := r.conn(tx).WithContext(ctx).
		Joins("JOIN project_members ON project_members.project_id = projects.id").
		Where("project_members.user_id = ?", userID).
		Order("projects.created_at DESC").
		Find(&projects).Error
	return projects, err
}

func (r *projectRepo) Update(ctx context.Context, tx *gorm.DB, project *types.Project) error {
	return r.conn(tx).WithContext(ctx).Save(project).Error
}

func (r *projectRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).Delete(&types.Project{}, "id = ?", id).Error
}

type MemberRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, member *types.ProjectMember) error
	Get(ctx context.Context, tx *gorm.DB, projectID, userID uuid.UUID) (*types.ProjectMember, error)
	List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]types.ProjectMember, error)
	Delete(ctx context.Context, tx *gorm.DB, projectID, userID uuid.UUID) error
	CountByRole(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, role types.ProjectRole) (int64, error)
}

type memberRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewMemberRepo(db *gorm.DB, log *logger.Logger) MemberRepo {
	return &memberRepo{db: db, log: log.With("repo", "MemberRepo")}
}

func (r *memberRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *memberRepo) Upsert(ctx context.Context, tx *gorm.DB, member *types.ProjectMember) error {
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role"}),
		}).
		Create(member).Error
}

func (r *memberRepo) Get(ctx context.Context, tx *gorm.DB, projectID, userID uuid.UUID) (*types.ProjectMember, error) {
	var member types.ProjectMember
	err := r.conn(tx).WithContext(ctx).
		First(&member, "project_id = ? AND user_id = ?", projectID, userID).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *memberRepo) List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]types.ProjectMember, error) {
	var members []types.ProjectMember
	err := r.conn(tx).WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&members).Error
	return members, err
}

func (r *memberRepo) Delete(ctx context.Context, tx *gorm.DB, projectID, userID uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Delete(&types.ProjectMember{}, "project_id = ? AND user_id = ?", projectID, userID).Error
}

func (r *memberRepo) CountByRole(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, role types.ProjectRole) (int64, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&types.ProjectMember{}).
		Where("project_id = ? AND role = ?", projectID, role).
		Count(&count).Error
	return count, err
}
