// README: Shared-secret check for partner webhooks.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret rejects callbacks whose secret header does not match. An empty secret disables the check.
func WebhookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}
