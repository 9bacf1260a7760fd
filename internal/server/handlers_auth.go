package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type credentialsPayload struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	AdminInviteCode string `json:"adminInviteCode"`
}

type sessionUserPayload struct {
	ID        uint       `json:"id"`
	Username  string     `json:"username"`
	UserLevel users.Role `json:"userLevel"`
}

func toSessionUser(user users.User) sessionUserPayload {
	return sessionUserPayload{ID: user.ID, Username: user.Username, UserLevel: user.Role}
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" || request.Password == "" {
		respondBadRequest(c, "Username and password are required")
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), request.Username, request.Password, request.AdminInviteCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !h.startSession(c, user) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": toSessionUser(user)})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" || request.Password == "" {
		respondBadRequest(c, "Username and password are required")
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}
	if !h.startSession(c, *user) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": toSessionUser(*user)})
}

func (h *httpHandler) startSession(c *gin.Context, user users.User) bool {
	session, err := h.users.CreateSession(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to create session", zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating session"})
		return false
	}
	expiresAt := time.Unix(session.ExpiresAtSeconds, 0).UTC()
	signed, err := h.sessions.Sign(session.Token, expiresAt)
	if err != nil {
		h.logger.Error("failed to sign session", zap.Uint("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating session"})
		return false
	}
	http.SetCookie(c.Writer, h.sessions.Cookie(signed, expiresAt))
	return true
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if sessionID := c.GetString(sessionContextKey); sessionID != "" {
		if err := h.users.DeleteSession(c.Request.Context(), sessionID); err != nil {
			h.logger.Error("failed to delete session", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error logging out"})
			return
		}
	}
	http.SetCookie(c.Writer, h.sessions.ClearCookie())
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": toSessionUser(*user)})
}
