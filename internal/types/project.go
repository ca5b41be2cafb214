package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ProjectRole string

const (
	RoleOwner  ProjectRole = "owner"
	RoleAdmin  ProjectRole = "admin"
	RoleEditor ProjectRole = "editor"
	RoleViewer ProjectRole = "viewer"
)

// RoleRank orders roles so that a lower rank means more privilege.
// Unknown roles rank below viewer.
func RoleRank(r ProjectRole) int {
	switch r {
	case RoleOwner:
		return 0
	case RoleAdmin:
		return 1
	case RoleEditor:
		return 2
	case RoleViewer:
		return 3
	default:
		return 4
	}
}

// RoleAllows reports whether a member with role `have` satisfies an
// endpoint that requires at least `need`.
func RoleAllows(have, need ProjectRole) bool {
	return RoleRank(have) <= RoleRank(need)
}

type Project struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string         `gorm:"not null" json:"name"`
	Slug        string         `gorm:"uniqueIndex;not null" json:"slug"`
	Description string         `gorm:"column:description" json:"description"`
	Settings    datatypes.JSON `gorm:"column:settings;type:jsonb" json:"settings"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

type ProjectMember struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:ux_member_project_user" json:"project_id"`
	Project   *Project    `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProjectID;references:ID" json:"-"`
	UserID    uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:ux_member_project_user" json:"user_id"`
	User      *User       `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Role      ProjectRole `gorm:"not null;default:'editor'" json:"role"`
	CreatedAt time.Time   `gorm:"not null" json:"created_at"`
}

func (ProjectMember) TableName() string { return "project_members" }

// IndexingPrompt is a project-scoped VLM prompt template usable as the
// custom prompt of an indexing run.
type IndexingPrompt struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID      uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	Project        *Project  `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProjectID;references:ID" json:"-"`
	Name           string    `gorm:"not null" json:"name"`
	PromptTemplate string    `gorm:"column:prompt_template;not null" json:"prompt_template"`
	ModelName      string    `gorm:"column:model_name" json:"model_name"`
	IsDefault      bool      `gorm:"column:is_default;not null;default:false" json:"is_default"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
}

func (IndexingPrompt) TableName() string { return "indexing_prompts" }
