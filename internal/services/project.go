package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type CreateProjectInput struct {
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description"`
	Settings    datatypes.JSON `json:"settings"`
}

type ProjectService interface {
	Create(ctx context.Context, ownerID uuid.UUID, input CreateProjectInput) (*types.Project, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Project, error)
	GetBySlug(ctx context.Context, slug string) (*types.Project, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]types.Project, error)
	Update(ctx context.Context, id uuid.UUID, name, description string, settings datatypes.JSON) (*types.Project, error)
	Delete(ctx context.Context, id uuid.UUID) error

	MemberRole(ctx context.Context, projectID, userID uuid.UUID) (types.ProjectRole, error)
	AddMember(ctx context.Context, projectID, userID uuid.UUID, role types.ProjectRole) (*types.ProjectMember, error)
	ListMembers(ctx context.Context, projectID uuid.UUID) ([]types.ProjectMember, error)
	RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error

	CreatePrompt(ctx context.Context, prompt *types.IndexingPrompt) error
	ListPrompts(ctx context.Context, projectID uuid.UUID) ([]types.IndexingPrompt, error)
	UpdatePrompt(ctx context.Context, prompt *types.IndexingPrompt) error
	DeletePrompt(ctx context.Context, projectID, promptID uuid.UUID) error
}

type projectService struct {
	db       *gorm.DB
	log      *logger.Logger
	projects repos.ProjectRepo
	members  repos.MemberRepo
	prompts  repos.PromptRepo
}

func NewProjectService(
	db *gorm.DB,
	projects repos.ProjectRepo,
	members repos.MemberRepo,
	prompts repos.PromptRepo,
	log *logger.Logger,
) ProjectService {
	return &projectService{
		db:       db,
		log:      log.With("service", "ProjectService"),
		projects: projects,
		members:  members,
		prompts:  prompts,
	}
}

func (s *projectService) Create(ctx context.Context, ownerID uuid.UUID, input CreateProjectInput) (*types.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apierr.Invalid("project name is required")
	}
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if slug == "" {
		slug = slugify(name)
	}
	if !slugPattern.MatchString(slug) {
		return nil, apierr.Invalid("slug must be lowercase alphanumerics separated by hyphens")
	}
	if _, err := s.projects.GetBySlug(ctx, nil, slug); err == nil {
		return nil, apierr.Conflict("slug already in use")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	project := &types.Project{
		ID:          uuid.New(),
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(input.Description),
		Settings:    input.Settings,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.projects.Create(ctx, tx, project); err != nil {
			return err
		}
		return s.members.Upsert(ctx, tx, &types.ProjectMember{
			ProjectID: project.ID,
			UserID:    ownerID,
			Role:      types.RoleOwner,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Project created", "project_id", project.ID.String(), "slug", slug)
	return project, nil
}

func (s *projectService) Get(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	project, err := s.projects.GetByID(ctx, nil, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("project")
	}
	return project, err
}

func (s *projectService) GetBySlug(ctx context.Context, slug string) (*types.Project, error) {
	project, err := s.projects.GetBySlug(ctx, nil, slug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("project")
	}
	return project, err
}

func (s *projectService) ListForUser(ctx context.Context, userID uuid.UUID) ([]types.Project, error) {
	return s.projects.ListForUser(ctx, nil, userID)
}

func (s *projectService) Update(ctx context.Context, id uuid.UUID, name, description string, settings datatypes.JSON) (*types.Project, error) {
	project, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name != "" {
		project.Name = name
	}
	if description != "" {
		project.Description = strings.TrimSpace(description)
	}
	if settings != nil {
		project.Settings = settings
	}
	if err := s.projects.Update(ctx, nil, project); err != nil {
		return nil, err
	}
	return project, nil
}

func (s *projectService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.projects.Delete(ctx, nil, id)
}

func (s *projectService) MemberRole(ctx context.Context, projectID, userID uuid.UUID) (types.ProjectRole, error) {
	member, err := s.members.Get(ctx, nil, projectID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apierr.Forbidden("not a project member")
		}
		return "", err
	}
	return member.Role, nil
}

func (s *projectService) AddMember(ctx context.Context, projectID, userID uuid.UUID, role types.ProjectRole) (*types.ProjectMember, error) {
	switch role {
	case types.RoleOwner, types.RoleAdmin, types.RoleEditor, types.RoleViewer:
	default:
		return nil, apierr.Invalid("unknown role")
	}
	member := &types.ProjectMember{ProjectID: projectID, UserID: userID, Role: role}
	if err := s.members.Upsert(ctx, nil, member); err != nil {
		return nil, err
	}
	return member, nil
}

func (s *projectService) ListMembers(ctx context.Context, projectID uuid.UUID) ([]types.ProjectMember, error) {
	return s.members.List(ctx, nil, projectID)
}

// RemoveMember refuses to orphan a project: the last owner stays.
func (s *projectService) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error {
	member, err := s.members.Get(ctx, nil, projectID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierr.NotFound("member")
		}
		return err
	}
	if member.Role == types.RoleOwner {
		owners, err := s.members.CountByRole(ctx, nil, projectID, types.RoleOwner)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return apierr.Conflict("cannot remove the last owner")
		}
	}
	return s.members.Delete(ctx, nil, projectID, userID)
}

func (s *projectService) CreatePrompt(ctx context.Context, prompt *types.IndexingPrompt) error {
	if strings.TrimSpace(prompt.Name) == "" || strings.TrimSpace(prompt.PromptTemplate) == "" {
		return apierr.Invalid("prompt name and template are required")
	}
	return s.prompts.Create(ctx, nil, prompt)
}

func (s *projectService) ListPrompts(ctx context.Context, projectID uuid.UUID) ([]types.IndexingPrompt, error) {
	return s.prompts.List(ctx, nil, projectID)
}

func (s *projectService) UpdatePrompt(ctx context.Context, prompt *types.IndexingPrompt) error {
	return s.prompts.Update(ctx, nil, prompt)
}

func (s *projectService) DeletePrompt(ctx context.Context, projectID, promptID uuid.UUID) error {
	return s.prompts.Delete(ctx, nil, promptID, projectID)
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
