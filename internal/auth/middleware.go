package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContextUserID gin 上下文中的用户ID
const ContextUserID = "auth.user_id"

// AdminChecker 查询用户是否管理员
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// RequireAdmin Bearer JWT → 401；非管理员 → 403
func RequireAdmin(j JWT, checker AdminChecker, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Missing authorization"})
			return
		}
		claims, err := j.Verify(strings.TrimSpace(token))
		if err != nil {
			logger.WithError(err).Debug("JWT校验失败")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Invalid token"})
			return
		}
		isAdmin, err := checker.IsAdmin(c.Request.Context(), claims.Subject)
		if err != nil {
			logger.WithError(err).WithField("user_id", claims.Subject).Error("查询管理员标记失败")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Failed to check admin status"})
			return
		}
		if !isAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "Admin access required"})
			return
		}
		c.Set(ContextUserID, claims.Subject)
		c.Next()
	}
}
