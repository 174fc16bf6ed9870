package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/idan55/makeamitsva-backend/internal/auth"
	"github.com/idan55/makeamitsva-backend/internal/auth/domain"
)

// GetProfile returns the current user's profile, including stars and coupon state.
func (h *Handler) GetProfile(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	user, err := h.authService.GetProfile(c.Request.Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
