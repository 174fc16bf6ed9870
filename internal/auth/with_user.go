package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/idan55/makeamitsva-backend/internal/auth/domain"
)

// CallerResolver maps a verified identity to a user record and enforces the ban gate.
type CallerResolver interface {
	ResolveCaller(ctx context.Context, u domain.UpsertUser) (*domain.User, error)
}

// WithUser must run after an identity middleware (Firebase or header) has set
// CtxFirebaseUID. It resolves the caller and rejects banned users with 403.
func WithUser(resolver CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		fuid := UserFirebaseUID(c)
		if fuid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}

		user, err := resolver.ResolveCaller(c.Request.Context(), domain.UpsertUser{
			FirebaseUID: fuid,
			Email:       c.GetString(CtxEmail),
			Name:        c.GetString(CtxName),
		})
		switch {
		case errors.Is(err, domain.ErrUserBanned):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "your account has been banned"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "could not resolve user"})
			return
		}

		c.Set(CtxUserID, user.ID)
		c.Set(CtxUserRole, user.Role)
		c.Next()
	}
}

// HeaderIdentity trusts X-User-Id / X-User-Email / X-User-Name headers.
// Development and tests only: it performs no verification.
func HeaderIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-Id header"})
			return
		}

		c.Set(CtxFirebaseUID, uid)
		c.Set(CtxEmail, c.GetHeader("X-User-Email"))
		c.Set(CtxName, c.GetHeader("X-User-Name"))
		c.Next()
	}
}
