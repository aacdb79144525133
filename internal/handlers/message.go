package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/chat"
	"messenger-service/internal/middleware"
	"messenger-service/internal/models"
	"messenger-service/internal/ws"
)

// MessageHandler manages message endpoints. Every mutation persists
// first and broadcasts only on success, so no client ever sees an event
// for a write that did not happen.
type MessageHandler struct {
	service *chat.Service
	hub     *ws.Hub
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(service *chat.Service, hub *ws.Hub) *MessageHandler {
	return &MessageHandler{service: service, hub: hub}
}

// ListMessages returns a page of the caller's view of the chat, newest
// first.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	msgs, total, err := h.service.ListMessages(c.Request.Context(), chatID, middleware.UserID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": total})
}

// PostMessage stores a new message and broadcasts it to the chat.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var in chat.SendMessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in.ChatID = chatID
	in.SenderID = middleware.UserID(c)

	msg, err := h.service.SendMessage(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BroadcastToChat(chatID, models.Event{Type: models.EventNewMessage, Payload: msg})
	c.JSON(http.StatusCreated, msg)
}

// EditMessage rewrites the content of the caller's own text message.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.EditMessage(c.Request.Context(), messageID, middleware.UserID(c), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BroadcastToChat(msg.ChatID, models.Event{Type: models.EventMessageUpdated, Payload: msg})
	c.JSON(http.StatusOK, msg)
}

// DeleteForEveryone clears the caller's own message for all
// participants and announces the deletion by id.
func (h *MessageHandler) DeleteForEveryone(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}

	deleted, err := h.service.DeleteForEveryone(c.Request.Context(), messageID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BroadcastToChat(deleted.ChatID, models.Event{Type: models.EventMessageDeleted, Payload: deleted})
	c.Status(http.StatusNoContent)
}

// DeleteForMe hides the message from the caller only. Nothing is
// broadcast; other participants' views are unchanged.
func (h *MessageHandler) DeleteForMe(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}

	if err := h.service.DeleteForMe(c.Request.Context(), messageID, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetReaction sets the caller's reaction on a message, replacing any
// previous one, and broadcasts the full reaction list.
func (h *MessageHandler) SetReaction(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatID, reactions, err := h.service.AddReaction(c.Request.Context(), messageID, middleware.UserID(c), req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BroadcastToChat(chatID, models.Event{Type: models.EventMessageReaction, Payload: reactions})
	c.JSON(http.StatusOK, reactions)
}

// RemoveReaction removes the caller's reaction and broadcasts the
// remaining list.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}

	chatID, reactions, err := h.service.RemoveReaction(c.Request.Context(), messageID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BroadcastToChat(chatID, models.Event{Type: models.EventMessageReaction, Payload: reactions})
	c.JSON(http.StatusOK, reactions)
}

func messageIDParam(c *gin.Context) (int, bool) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, false
	}
	return messageID, true
}
