package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/milkrun/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/milkrun/internal/audit/domain"
	obscontext "github.com/smallbiznis/milkrun/internal/observability/context"
)

const (
	contextAPIKeyIDKey   = "api_key_id"
	contextAPIKeyRoleKey = "api_key_role"
)

// APIKeyRequired authenticates requests with a bearer API key and records
// the key as the request actor.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, err := s.apiKeySvc.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAPIKey), key.KeyID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAPIKeyIDKey, key.KeyID)
		c.Set(contextAPIKeyRoleKey, key.Role)
		c.Next()
	}
}

// authorize gates a route on the casbin policy for the authenticated key's
// role.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID := c.GetString(contextAPIKeyIDKey)
		role, _ := c.Get(contextAPIKeyRoleKey)
		keyRole, ok := role.(apikeydomain.Role)
		if keyID == "" || !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), keyID, keyRole, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
