package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

const (
	projectIDContextKey  = "projectID"
	memberRoleContextKey = "memberRole"
)

type ProjectMiddleware struct {
	log      *logger.Logger
	projects services.ProjectService
}

func NewProjectMiddleware(projects services.ProjectService, log *logger.Logger) *ProjectMiddleware {
	return &ProjectMiddleware{log: log.With("middleware", "ProjectMiddleware"), projects: projects}
}

// RequireRole resolves the caller's membership on the project named by
// the :project_id path param. Non-members get 404, the same answer as a
// project that does not exist, so the route leaks nothing about which
// projects are real.
func (m *ProjectMiddleware) RequireRole(minRole types.ProjectRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "auth_invalid", "message": "missing credentials"}})
			return
		}
		projectID, err := uuid.Parse(c.Param("project_id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "project not found"}})
			return
		}
		role, err := m.projects.MemberRole(c.Request.Context(), projectID, user.ID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "project not found"}})
			return
		}
		if !types.RoleAllows(role, minRole) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "forbidden", "message": "insufficient project role"}})
			return
		}
		c.Set(projectIDContextKey, projectID)
		c.Set(memberRoleContextKey, role)
		c.Next()
	}
}

// ProjectID returns the project resolved by RequireRole.
func ProjectID(c *gin.Context) uuid.UUID {
	v, ok := c.Get(projectIDContextKey)
	if !ok {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

// MemberRole returns the caller's role resolved by RequireRole.
func MemberRole(c *gin.Context) types.ProjectRole {
	v, ok := c.Get(memberRoleContextKey)
	if !ok {
		return ""
	}
	role, _ := v.(types.ProjectRole)
	return role
}
