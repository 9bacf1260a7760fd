package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/boxboard/internal/assets"
	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListApplications(c *gin.Context) {
	applications, err := h.boxes.ListPendingApplications(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, applications)
}

func (h *httpHandler) handleAcceptApplication(c *gin.Context) {
	applicationID, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Application not found"})
		return
	}
	if _, err := h.boxes.AcceptApplication(c.Request.Context(), applicationID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleRejectApplication(c *gin.Context) {
	applicationID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid application id")
		return
	}
	if err := h.boxes.RejectApplication(c.Request.Context(), applicationID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type updateConditionsPayload struct {
	Condition1 string `json:"condition1"`
	Condition2 string `json:"condition2"`
	Condition3 string `json:"condition3"`
	Condition4 string `json:"condition4"`
}

func (h *httpHandler) handleUpdateConditions(c *gin.Context) {
	boxID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid box id")
		return
	}
	var request updateConditionsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "All four conditions must be provided")
		return
	}
	err := h.boxes.UpdateConditions(c.Request.Context(), boxID,
		request.Condition1, request.Condition2, request.Condition3, request.Condition4)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// bulkImportPayload accepts either raw import text or changes parsed by the client.
type bulkImportPayload struct {
	Text    string                  `json:"text"`
	Changes []boxes.ConditionChange `json:"changes"`
}

func (h *httpHandler) handleBulkImport(c *gin.Context) {
	var request bulkImportPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "Changes array is required")
		return
	}

	var (
		applied []boxes.ConditionChange
		err     error
	)
	switch {
	case strings.TrimSpace(request.Text) != "":
		applied, err = h.boxes.BulkImport(c.Request.Context(), request.Text)
	case len(request.Changes) > 0:
		applied, err = h.boxes.ApplyChanges(c.Request.Context(), request.Changes)
	default:
		respondBadRequest(c, "Changes array is required")
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Successfully updated %d post(s)", len(applied)),
		"changes": applied,
	})
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	stored, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]users.View, 0, len(stored))
	for _, user := range stored {
		views = append(views, user.ToView())
	}
	c.JSON(http.StatusOK, views)
}

type forceAssignPayload struct {
	UserID     uint     `json:"userId"`
	Conditions []string `json:"conditions"`
}

func (h *httpHandler) handleForceAssign(c *gin.Context) {
	boxID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid box id")
		return
	}
	var request forceAssignPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID == 0 || len(request.Conditions) == 0 {
		respondBadRequest(c, "User ID and conditions are required")
		return
	}
	if err := h.boxes.ForceAssign(c.Request.Context(), boxID, request.UserID, request.Conditions); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleRemoveHolder(c *gin.Context) {
	boxID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid box id")
		return
	}
	if err := h.boxes.RemoveHolder(c.Request.Context(), boxID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type assetStatusPayload struct {
	Status json.RawMessage `json:"status"`
}

// handleSetAssetStatus sets repair or upgrade; an explicit null clears the status.
func (h *httpHandler) handleSetAssetStatus(c *gin.Context) {
	assetID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid asset id")
		return
	}
	var request assetStatusPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Status) == 0 {
		respondBadRequest(c, "Status must be repair, upgrade, or null")
		return
	}

	ctx := c.Request.Context()
	if bytes.Equal(bytes.TrimSpace(request.Status), []byte("null")) {
		if err := h.assets.ClearStatus(ctx, assetID); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	var raw string
	if err := json.Unmarshal(request.Status, &raw); err != nil {
		respondBadRequest(c, "Status must be repair, upgrade, or null")
		return
	}
	status, err := assets.ParseStatus(raw)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.assets.SetStatus(ctx, assetID, status); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type userLevelPayload struct {
	UserLevel string `json:"userLevel"`
}

func (h *httpHandler) handleUpdateUserLevel(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid user id")
		return
	}
	var request userLevelPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "Invalid user level")
		return
	}
	role, valid := users.ParseRole(request.UserLevel)
	if !valid {
		respondBadRequest(c, "Invalid user level")
		return
	}
	if err := h.users.UpdateRole(c.Request.Context(), userID, role); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListAssets(c *gin.Context) {
	views, err := h.assets.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleListAssetsByStatus(c *gin.Context) {
	status, err := assets.ParseStatus(c.Param("status"))
	if err != nil || status == assets.StatusNone {
		respondBadRequest(c, "Status must be repair or upgrade")
		return
	}
	views, err := h.assets.ListByStatus(c.Request.Context(), status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}
