package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/chat"
	"messenger-service/internal/middleware"
	"messenger-service/internal/ws"
)

// ChatHandler manages conversation endpoints: creation, listing,
// membership and unread state.
type ChatHandler struct {
	service *chat.Service
	hub     *ws.Hub
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(service *chat.Service, hub *ws.Hub) *ChatHandler {
	return &ChatHandler{service: service, hub: hub}
}

// ListChats returns the caller's chats with unread counters and
// last-message previews.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := middleware.UserID(c)

	chats, err := h.service.ListChats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// StartDirectChat creates or returns the direct chat with another user.
func (h *ChatHandler) StartDirectChat(c *gin.Context) {
	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	created, isNew, err := h.service.CreateDirectChat(c.Request.Context(), userID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	c.JSON(status, created)
}

// CreateGroupChat creates a named group with the caller as admin.
func (h *ChatHandler) CreateGroupChat(c *gin.Context) {
	var req struct {
		Name           string `json:"name" binding:"required"`
		ParticipantIDs []int  `json:"participant_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	created, err := h.service.CreateGroupChat(c.Request.Context(), userID, req.Name, req.ParticipantIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetChat returns a single chat the caller participates in.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	found, err := h.service.GetChat(c.Request.Context(), chatID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// Participants lists the chat's membership rows.
func (h *ChatHandler) Participants(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	parts, err := h.service.Participants(c.Request.Context(), chatID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": parts})
}

// RenameGroup changes a group chat's name. Admin only.
func (h *ChatHandler) RenameGroup(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.service.RenameGroup(c.Request.Context(), chatID, middleware.UserID(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// AddParticipants adds users to a group chat. Admin only.
func (h *ChatHandler) AddParticipants(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	var req struct {
		UserIDs []int `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.AddParticipants(c.Request.Context(), chatID, middleware.UserID(c), req.UserIDs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveParticipant removes a user from a group chat.
func (h *ChatHandler) RemoveParticipant(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	targetID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if err := h.service.RemoveParticipant(c.Request.Context(), chatID, middleware.UserID(c), targetID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveChat removes the caller from a group chat. The last participant
// out deletes the chat; a departing last admin promotes the oldest
// remaining member.
func (h *ChatHandler) LeaveChat(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	if err := h.service.LeaveChat(c.Request.Context(), chatID, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteChat deletes the conversation and everything under it.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	if err := h.service.DeleteChat(c.Request.Context(), chatID, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkChatRead zeroes the caller's unread counter and records read
// receipts for messages they did not send.
func (h *ChatHandler) MarkChatRead(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	if err := h.service.MarkChatRead(c.Request.Context(), chatID, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func chatIDParam(c *gin.Context) (int, bool) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return 0, false
	}
	return chatID, true
}
