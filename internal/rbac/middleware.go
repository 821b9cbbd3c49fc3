package rbac

import (
	"net/http"

	"familycall-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireFamily enforces the tenancy invariant: family_id must exist in context.
// This does not validate membership; that belongs to the family directory once
// persistence exists.
func RequireFamily() gin.HandlerFunc {
	return func(c *gin.Context) {
		fid, err := auth.FamilyID(c.Request.Context())
		if err != nil || fid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "family_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - parent bypasses all checks (guardians administer the family)
// - family isolation is enforced via RequireFamily (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		// parent bypasses all
		if IsParent(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
