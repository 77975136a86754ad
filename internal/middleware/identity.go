package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sensai-labs/proctor-client/internal/response"
)

const (
	// HeaderUserID carries the externally provisioned caller identity.
	HeaderUserID = "X-User-ID"

	// ContextKeyUserID is the Gin context key for the resolved identity.
	ContextKeyUserID = "user_id"
)

// RequireIdentity extracts the caller identity from the X-User-ID header.
// Absence is a hard failure before any backend call is attempted. Identity
// provisioning itself is external; this middleware only enforces presence
// and passes the value through.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrIdentityMissing)
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// RequireIdentityWS is the WebSocket variant: browsers cannot set custom
// headers on upgrade requests, so ?user_id= is accepted as a fallback.
func RequireIdentityWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			userID = c.Query("user_id")
		}
		if userID == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrIdentityMissing)
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// GetUserID retrieves the resolved identity from the Gin context.
func GetUserID(c *gin.Context) string {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return ""
	}
	id, ok := val.(string)
	if !ok {
		return ""
	}
	return id
}
