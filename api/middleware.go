package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const contextUserIDKey = "user_id"

// authMiddleware validates the Bearer token and stores the caller's user id
// in the request context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		userID, err := s.identities.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// adminMiddleware requires the authenticated caller to be an admin.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := currentUserID(c)
		isAdmin, err := s.identities.IsAdmin(c.Request.Context(), userID)
		if err != nil {
			s.logger.Warn("admin check failed", zap.String("user_id", userID.String()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if !isAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// currentUserID returns the authenticated user id set by authMiddleware.
func currentUserID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(contextUserIDKey)
	id, _ := v.(uuid.UUID)
	return id
}
