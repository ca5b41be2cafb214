package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError maps any error onto the wire envelope. Unknown errors
// become opaque 500s so internals never leak to clients.
func RespondError(c *gin.Context, err error) {
	status := apierr.Status(err)
	code := apierr.Code(err)
	msg := "internal error"
	if status != http.StatusInternalServerError && err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Code: code, Message: msg}})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}

func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// uuidParam parses a path parameter, reporting 404 on garbage so bad
// IDs and missing rows answer identically.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, apierr.NotFound("resource"))
		return uuid.Nil, false
	}
	return id, true
}
