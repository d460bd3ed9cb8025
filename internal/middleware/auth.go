package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"message-sync/internal/session"
)

// RequireSession validates the Authorization header against the session
// credential shared with the host application, so only the owning UI can
// drive the sync core.
func RequireSession(sess session.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		creds, err := sess.Credentials(c.Request.Context())
		if err != nil || subtle.ConstantTimeCompare([]byte(parts[1]), []byte(creds.Token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", creds.UserID)
		c.Next()
	}
}
