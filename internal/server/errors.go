package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bookthreads/bookthreads-api/internal/serviceerror"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps a service error onto an HTTP status and a JSON body.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	h.respondErrorWith(c, err, nil)
}

// respondErrorWith adds extra fields to the error body.
func (h *httpHandler) respondErrorWith(c *gin.Context, err error, extra gin.H) {
	status, body := errorResponse(err)
	for key, value := range extra {
		body[key] = value
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	code, _ := serviceerror.CodeOf(err)
	switch {
	case errors.Is(err, serviceerror.ErrAuthenticationRequired):
		return http.StatusUnauthorized, gin.H{"error": "authentication_required"}
	case errors.Is(err, serviceerror.ErrSelfAction):
		return http.StatusBadRequest, gin.H{"error": "self_action", "message": selfActionMessage(err)}
	case errors.Is(err, serviceerror.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": "not_found"}
	case errors.Is(err, serviceerror.ErrInvalidInput):
		return http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()}
	case errors.Is(err, serviceerror.ErrForbidden):
		return http.StatusForbidden, gin.H{"error": "forbidden"}
	}
	if code == "" {
		code = "internal"
	}
	return http.StatusInternalServerError, gin.H{"error": "internal_error", "code": code}
}

// selfActionMessage extracts the user-facing detail, such as "you cannot follow yourself".
func selfActionMessage(err error) string {
	for current := err; current != nil; current = errors.Unwrap(current) {
		if _, coded := current.(*serviceerror.ServiceError); coded || current == serviceerror.ErrSelfAction {
			continue
		}
		return strings.TrimPrefix(current.Error(), serviceerror.ErrSelfAction.Error()+": ")
	}
	return serviceerror.ErrSelfAction.Error()
}
