package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-api/internal/authz"
	appErrors "github.com/noah-isme/attendance-api/pkg/errors"
	"github.com/noah-isme/attendance-api/pkg/response"
)

// RequirePermission lets the request through when policy allows the caller's role to perform op.
func RequirePermission(policy authz.Policy, op authz.Operation) gin.HandlerFunc {
	if policy == nil {
		policy = authz.DefaultPolicy
	}
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !policy(claims.Role, op) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "access denied: insufficient permissions"))
			c.Abort()
			return
		}
		c.Next()
	}
}
