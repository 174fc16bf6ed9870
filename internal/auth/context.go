package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	CtxFirebaseUID = "firebase_uid"
	CtxEmail       = "email"
	CtxName        = "name"
	CtxUserID      = "user_id"
	CtxUserRole    = "user_role"
)

// UserFirebaseUID is the identity-provider id set by the identity middleware.
func UserFirebaseUID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxFirebaseUID))
}

// UserID is our users.id, set by WithUser once the caller passed the ban gate.
func UserID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxUserID))
}
