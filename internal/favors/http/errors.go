package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/idan55/makeamitsva-backend/internal/favors/domain"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrSelfHelp):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyClaimed), errors.Is(err, domain.ErrNoHelperAssigned):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDependency):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "code"}. Dependency and internal
// failures are logged and reported without their cause.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		msg = "internal error"
		if status == http.StatusServiceUnavailable {
			msg = "service temporarily unavailable"
		}
	}

	c.JSON(status, gin.H{"error": msg, "code": domain.Code(err)})
}
