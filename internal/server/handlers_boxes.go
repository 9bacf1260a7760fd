package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 25 * time.Second

type conditionsPayload struct {
	Conditions []string `json:"conditions"`
}

func (h *httpHandler) handleListBoxes(c *gin.Context) {
	views, err := h.boxes.ListBoxes(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleGetBox(c *gin.Context) {
	boxID, ok := parseID(c, "id")
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Box not found"})
		return
	}
	view, err := h.boxes.GetBox(c.Request.Context(), boxID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) bindBoxAndConditions(c *gin.Context) (uint, []string, bool) {
	boxID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid box id")
		return 0, nil, false
	}
	var request conditionsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "At least one condition must be selected")
		return 0, nil, false
	}
	return boxID, request.Conditions, true
}

func (h *httpHandler) handleApply(c *gin.Context) {
	user, _ := currentUser(c)
	boxID, conditions, ok := h.bindBoxAndConditions(c)
	if !ok {
		return
	}
	applicationID, err := h.boxes.Apply(c.Request.Context(), boxID, user.ID, conditions)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "applicationId": applicationID})
}

func (h *httpHandler) handleHold(c *gin.Context) {
	user, _ := currentUser(c)
	boxID, conditions, ok := h.bindBoxAndConditions(c)
	if !ok {
		return
	}
	if err := h.boxes.Hold(c.Request.Context(), boxID, user.ID, conditions); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleLeave(c *gin.Context) {
	user, _ := currentUser(c)
	boxID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid box id")
		return
	}
	if err := h.boxes.Leave(c.Request.Context(), boxID, user.ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleWithdraw(c *gin.Context) {
	user, _ := currentUser(c)
	boxID, ok := parseID(c, "id")
	if !ok {
		respondBadRequest(c, "Invalid box id")
		return
	}
	if err := h.boxes.Withdraw(c.Request.Context(), boxID, user.ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type realtimeEventPayload struct {
	BoxID  uint            `json:"boxId"`
	Kind   boxes.EventKind `json:"kind"`
	At     time.Time       `json:"at"`
	Source string          `json:"source"`
}

// handleBoxEvents streams box mutations as server-sent events until the client disconnects.
func (h *httpHandler) handleBoxEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx)
	defer cleanup()
	if h.metrics != nil {
		h.metrics.SubscriberOpened()
		defer h.metrics.SubscriberClosed()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(realtimeEventReady, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(realtimeEventBoxChanged, realtimeEventPayload{
				BoxID:  event.BoxID,
				Kind:   event.Kind,
				At:     event.At,
				Source: realtimeSourceBackend,
			})
			return true
		case now := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"at": now.UTC()})
			return true
		}
	})
}
