package types

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email          string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	HashedPassword string    `gorm:"not null;column:hashed_password" json:"-"`
	FullName       string    `gorm:"column:full_name" json:"full_name"`
	IsActive       bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	IsSuperuser    bool      `gorm:"column:is_superuser;not null;default:false" json:"is_superuser"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

type APIKey struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	User      *User      `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`
	Name      string     `gorm:"not null" json:"name"`
	KeyHash   string     `gorm:"column:key_hash;not null;uniqueIndex" json:"-"`
	KeyPrefix string     `gorm:"column:key_prefix;not null" json:"key_prefix"`
	LastUsed  *time.Time `gorm:"column:last_used" json:"last_used,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
}

func (APIKey) TableName() string { return "api_keys" }
