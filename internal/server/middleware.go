package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/boxboard/internal/auth"
	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) requireReady(c *gin.Context) {
	if !h.readiness.Ready() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "database_not_ready"})
		return
	}
	c.Next()
}

// loadSession attaches the signed-in user when the cookie names a live session.
// Anonymous requests continue without a user.
func (h *httpHandler) loadSession(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if !errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Debug("session cookie rejected", zap.Error(err))
		}
		c.Next()
		return
	}
	user, err := h.users.GetUserBySession(c.Request.Context(), claims.SessionID)
	if err != nil {
		h.logger.Warn("session lookup failed", zap.Error(err))
		c.Next()
		return
	}
	c.Set(sessionContextKey, claims.SessionID)
	if user != nil {
		c.Set(userContextKey, user)
	}
	c.Next()
}

func currentUser(c *gin.Context) (*users.User, bool) {
	value, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*users.User)
	return user, ok && user != nil
}

func (h *httpHandler) requireAuth(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok || !user.Role.IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		return
	}
	c.Next()
}

func (h *httpHandler) requireOwner(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok || user.Role != users.RoleOwner {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Owner access required"})
		return
	}
	c.Next()
}

func (h *httpHandler) requireBotToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.botTokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("bot token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Discord bot authentication required"})
		return
	}
	c.Set(botSubjectContextKey, subject)
	c.Next()
}

func (h *httpHandler) rateLimit(c *gin.Context) {
	allowed, retryAfter := h.limiter.Allow(c.ClientIP())
	if allowed {
		c.Next()
		return
	}
	if h.metrics != nil {
		h.metrics.RecordRateLimited()
	}
	minutes := int(math.Ceil(retryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	seconds := int(math.Ceil(retryAfter.Seconds()))
	h.logger.Warn("discord auth rate limited",
		zap.String("client_ip", c.ClientIP()),
		zap.Duration("retry_after", retryAfter))
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":      "Rate limit exceeded",
		"message":    fmt.Sprintf("Too many Discord authentication attempts. Try again in %d minute(s).", minutes),
		"retryAfter": retryAfter.Milliseconds(),
	})
}

func parseID(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 32)
	if err != nil || value == 0 {
		return 0, false
	}
	return uint(value), true
}
