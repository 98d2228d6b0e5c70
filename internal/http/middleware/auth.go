// README: Bearer-token auth middleware; stores the verified merchant id and role on the context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"yisong/internal/infra"
)

const (
	ctxKeyUID  = "auth.uid"
	ctxKeyRole = "auth.role"

	// queryToken lets EventSource clients, which cannot set headers, authenticate.
	queryToken = "access_token"

	// RoleMerchant is assumed for tokens without a role claim.
	RoleMerchant = "merchant"
)

func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxKeyUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxKeyRole, role)
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		if c.Request.Method == http.MethodGet {
			return c.Query(queryToken)
		}
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CallerUID is the authenticated merchant id, empty outside Auth.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// RequireRole must run after Auth; callers outside the listed roles get 403.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		if role == "" {
			role = RoleMerchant
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role " + role + " may not use this endpoint"})
	}
}
