// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"roam/internal/modules/session"
	"roam/internal/modules/validate"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// isValidID accepts generated conversation IDs: letters, digits and dashes, at most 64 chars.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError is the one place service errors become HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	var verr *validate.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(c, http.StatusUnprocessableEntity, errorResponse{Error: verr.Reason, Field: verr.Field})
	case errors.Is(err, session.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrConflict), errors.Is(err, session.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "request timed out")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
