package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/boxboard/internal/assets"
	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/MarcoPoloResearchLab/boxboard/internal/discord"
	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	target  error
	status  int
	message string
}

var errorMappings = []errorMapping{
	{boxes.ErrNoConditions, http.StatusBadRequest, "At least one condition must be selected"},
	{boxes.ErrBlankCondition, http.StatusBadRequest, "All four conditions must be provided"},
	{boxes.ErrEmptyImport, http.StatusBadRequest, "Changes array is required"},
	{boxes.ErrBoxNotFound, http.StatusNotFound, "Box not found"},
	{boxes.ErrApplicationNotFound, http.StatusNotFound, "Application not found"},
	{boxes.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{users.ErrInvalidUsername, http.StatusBadRequest, "Username must be at least 3 characters"},
	{users.ErrInvalidPassword, http.StatusBadRequest, "Password must be at least 4 characters"},
	{users.ErrPasswordTooLong, http.StatusBadRequest, "Password must be at most 72 bytes"},
	{users.ErrDuplicateUsername, http.StatusBadRequest, "Username already exists"},
	{users.ErrInvalidRole, http.StatusBadRequest, "Invalid user level"},
	{users.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{assets.ErrInvalidStatus, http.StatusBadRequest, "Status must be repair, upgrade, or null"},
	{assets.ErrAssetNotFound, http.StatusNotFound, "Asset not found"},
	{discord.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{discord.ErrMissingDiscordUserID, http.StatusBadRequest, "Discord user ID required"},
	{discord.ErrMissingCommandName, http.StatusBadRequest, "Command name required"},
}

// respondError maps service errors onto HTTP statuses. Unknown errors are 500s carrying the message.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var importErr *boxes.ImportError
	if errors.As(err, &importErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid import", "details": importErr.Problems})
		return
	}
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			c.AbortWithStatusJSON(mapping.status, gin.H{"error": mapping.message})
			return
		}
	}
	h.logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("route", c.FullPath()),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message})
}
