package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/chat"
	"messenger-service/internal/middleware"
	"messenger-service/internal/models"
	"messenger-service/internal/presence"
	"messenger-service/internal/ws"
)

// UserHandler serves user profiles and presence. Online state comes
// from the live registry; the stored status row is the durable record.
type UserHandler struct {
	service  *chat.Service
	registry presence.Registry
	hub      *ws.Hub
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(service *chat.Service, registry presence.Registry, hub *ws.Hub) *UserHandler {
	return &UserHandler{service: service, registry: registry, hub: hub}
}

// GetUser returns a user's profile with live online state attached.
func (h *UserHandler) GetUser(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := h.service.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	type userResponse struct {
		models.User
		Online bool `json:"online"`
	}
	c.JSON(http.StatusOK, userResponse{User: user, Online: h.registry.IsOnline(userID)})
}

// OnlineUsers lists the ids of every currently connected user.
func (h *UserHandler) OnlineUsers(c *gin.Context) {
	ids := h.registry.OnlineUserIDs()
	if ids == nil {
		ids = []int{}
	}
	c.JSON(http.StatusOK, gin.H{"user_ids": ids})
}

// UpdateStatus sets the caller's status and broadcasts the change to
// every connected session.
func (h *UserHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := h.service.UpdateUserStatus(c.Request.Context(), middleware.UserID(c), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BroadcastGlobal(models.Event{Type: models.EventUserStatusChange, Payload: change})
	c.JSON(http.StatusOK, change)
}
