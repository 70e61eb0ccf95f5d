package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// unauthorizedBody is the fixed 401 response payload.
var unauthorizedBody = gin.H{"error": gin.H{"message": "Unauthorized: API key is invalid or missing."}}

// AuthMiddleware rejects requests that do not present the required API key
// through any of the accepted channels.
func AuthMiddleware(requiredKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAuthorized(c.Request, requiredKey) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorizedBody)
	}
}

// isAuthorized accepts the key from a Bearer Authorization header, the
// x-api-key or x-goog-api-key headers, or the key query parameter.
func isAuthorized(r *http.Request, requiredKey string) bool {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if strings.TrimPrefix(auth, "Bearer ") == requiredKey {
			return true
		}
	}
	if r.Header.Get("x-api-key") == requiredKey {
		return true
	}
	if r.Header.Get("x-goog-api-key") == requiredKey {
		return true
	}
	return r.URL.Query().Get("key") == requiredKey
}
