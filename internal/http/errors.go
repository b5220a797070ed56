package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"soundshelf/internal/ingest"
	"soundshelf/internal/push"
	"soundshelf/internal/service"
)

// errorResponse maps an error to a status and a tagged body. Kinds without
// data are a bare JSON string; kinds with data are a single-key object.
func errorResponse(err error) (int, any) {
	var invalid *service.InvalidInputError
	switch {
	case errors.Is(err, service.ErrUsernameTaken):
		return http.StatusConflict, "UsernameTaken"
	case errors.Is(err, service.ErrLoginFailed):
		return http.StatusUnauthorized, "LoginFailed"
	case errors.Is(err, service.ErrCredentialsMissing):
		return http.StatusBadRequest, "CredentialsMissing"
	case errors.Is(err, service.ErrNotLoggedIn):
		return http.StatusUnauthorized, "NotLoggedIn"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, push.ErrInvalidToken):
		return http.StatusUnauthorized, "InvalidToken"
	case errors.As(err, &invalid):
		return http.StatusBadRequest, gin.H{"BadRequest": invalid.Error()}
	case errors.Is(err, service.ErrUpstreamFetch):
		return http.StatusBadGateway, gin.H{"UpstreamFetchError": err.Error()}
	case errors.Is(err, ingest.ErrNotRunning):
		return http.StatusServiceUnavailable, "ShuttingDown"
	default:
		return http.StatusInternalServerError, gin.H{"StoreError": err.Error()}
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithField("path", c.Request.URL.Path).Errorf("request error: %v", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) badRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"BadRequest": detail})
}
