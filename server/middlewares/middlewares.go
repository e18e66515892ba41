package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kamaleddin/threadify/store"
	"github.com/kamaleddin/threadify/utils"
	Logger "github.com/kamaleddin/threadify/utils/log"
)

var (
	// tokenStore resolves API tokens. Must be initialized through Setup
	// before any middleware is used.
	tokenStore store.RunStore
)

// Setup initializes package scoped variables needed to perform middleware
// functionalities. This function must be called before any middleware is
// used.
func Setup(s store.RunStore) {
	tokenStore = s
}

// ApiToken authenticates requests by the bearer token in the Authorization
// header. Only the sha256 hash of a token is ever stored or compared.
func ApiToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		token, err := tokenStore.GetApiTokenByHash(utils.TextToSha256Hash(raw))
		if err != nil || !token.Active() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or revoked token"})
			return
		}

		if err := tokenStore.TouchApiToken(token.Id); err != nil {
			Logger.Log.Warnf("cannot record token use: %v", err)
		}

		c.Set("token_label", token.Label)
		c.Next()
	}
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
