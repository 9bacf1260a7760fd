package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/boxboard/internal/discord"
	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const linkOutcomeLinked = "linked"

// redirectToApp sends the browser back to the web app with the given query parameters.
func (h *httpHandler) redirectToApp(c *gin.Context, params url.Values) {
	target := strings.TrimRight(h.webAppURL, "/") + "/"
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}
	c.Redirect(http.StatusFound, target)
}

func (h *httpHandler) handleDiscordInitiate(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		h.redirectToApp(c, url.Values{"error": {"login_required"}})
		return
	}
	if !h.discord.OAuthEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Discord integration not configured"})
		return
	}

	target, err := h.discord.Initiate(c.Request.Context(), user.ID)
	if errors.Is(err, discord.ErrAlreadyLinked) {
		params := url.Values{"error": {"already_linked"}}
		if user.DiscordUsername != nil {
			params.Set("discord", *user.DiscordUsername)
		}
		h.redirectToApp(c, params)
		return
	}
	if err != nil {
		h.logger.Error("discord link initiation failed", zap.Uint("user_id", user.ID), zap.Error(err))
		h.redirectToApp(c, url.Values{"error": {discord.CodeDatabaseError}})
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *httpHandler) handleDiscordCallback(c *gin.Context) {
	result, err := h.discord.Complete(c.Request.Context(), discord.CallbackParams{
		Code:  c.Query("code"),
		State: c.Query("state"),
		Error: c.Query("error"),
	})
	if err != nil {
		code := discord.CodeDatabaseError
		var linkErr *discord.LinkError
		if errors.As(err, &linkErr) {
			code = linkErr.Code
		}
		h.recordLinkOutcome(code)
		h.logger.Warn("discord link failed", zap.String("code", code), zap.Error(err))
		h.redirectToApp(c, url.Values{"error": {code}})
		return
	}
	h.recordLinkOutcome(linkOutcomeLinked)
	h.redirectToApp(c, url.Values{
		"success": {"discord_linked"},
		"discord": {result.Profile.DisplayName()},
	})
}

func (h *httpHandler) recordLinkOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordLinkOutcome(outcome)
	}
}

func (h *httpHandler) handleDiscordUnlink(c *gin.Context) {
	user, _ := currentUser(c)
	if err := h.discord.Unlink(c.Request.Context(), user.ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Discord account successfully unlinked"})
}

func (h *httpHandler) handleDiscordStatus(c *gin.Context) {
	user, _ := currentUser(c)
	status, err := h.discord.Status(c.Request.Context(), user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type botBoxPayload struct {
	DiscordUserID string   `json:"discordUserId"`
	Conditions    []string `json:"conditions"`
}

// bindBotRequest resolves the linked account named in the body. It writes the response on failure.
func (h *httpHandler) bindBotRequest(c *gin.Context) (uint, users.User, []string, bool) {
	boxID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid box id")
		return 0, users.User{}, nil, false
	}
	var request botBoxPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DiscordUserID) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Discord user ID required"})
		return 0, users.User{}, nil, false
	}
	user, err := h.discord.LookupByDiscordID(c.Request.Context(), request.DiscordUserID)
	if errors.Is(err, discord.ErrUserNotFound) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Discord account not linked"})
		return 0, users.User{}, nil, false
	}
	if err != nil {
		h.respondError(c, err)
		return 0, users.User{}, nil, false
	}
	return boxID, user, request.Conditions, true
}

func (h *httpHandler) handleBotApply(c *gin.Context) {
	boxID, user, conditions, ok := h.bindBotRequest(c)
	if !ok {
		return
	}
	applicationID, err := h.boxes.Apply(c.Request.Context(), boxID, user.ID, conditions)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"applicationId": applicationID,
		"message":       "Application submitted successfully",
	})
}

func (h *httpHandler) handleBotHold(c *gin.Context) {
	boxID, user, conditions, ok := h.bindBotRequest(c)
	if !ok {
		return
	}
	if err := h.boxes.Hold(c.Request.Context(), boxID, user.ID, conditions); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Box held successfully"})
}

func (h *httpHandler) handleBotLookupUser(c *gin.Context) {
	user, err := h.discord.LookupByDiscordID(c.Request.Context(), c.Param("discordId"))
	if errors.Is(err, discord.ErrUserNotFound) || errors.Is(err, discord.ErrMissingDiscordUserID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, discord.LinkedUserView(user))
}

type logCommandPayload struct {
	DiscordUserID  string          `json:"discordUserId"`
	CommandName    string          `json:"commandName"`
	CommandOptions json.RawMessage `json:"commandOptions"`
	Success        bool            `json:"success"`
	ErrorMessage   *string         `json:"errorMessage"`
	ResponseTime   *int64          `json:"responseTime"`
	GuildID        *string         `json:"guildId"`
	ChannelID      *string         `json:"channelId"`
}

// handleBotLogCommand records usage best-effort; the bot always gets success.
func (h *httpHandler) handleBotLogCommand(c *gin.Context) {
	var request logCommandPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.Warn("discord command log payload invalid", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	options := ""
	if len(request.CommandOptions) > 0 && string(request.CommandOptions) != "null" {
		options = string(request.CommandOptions)
	}
	err := h.discord.LogCommand(c.Request.Context(), discord.CommandLog{
		DiscordUserID:  request.DiscordUserID,
		CommandName:    request.CommandName,
		CommandOptions: options,
		Success:        request.Success,
		ErrorMessage:   request.ErrorMessage,
		ResponseTimeMS: request.ResponseTime,
		GuildID:        request.GuildID,
		ChannelID:      request.ChannelID,
	})
	if err != nil {
		h.logger.Warn("discord command log failed",
			zap.String("discord_user_id", request.DiscordUserID),
			zap.String("command", request.CommandName),
			zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
