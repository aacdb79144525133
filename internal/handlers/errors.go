package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/chat"
	"messenger-service/internal/repositories"
)

// respondError maps service and repository errors onto HTTP statuses.
// Validation problems are 400, authorization 403, missing rows 404;
// anything unrecognized is a 500 with a generic body.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrSelfChat),
		errors.Is(err, chat.ErrEmptyName),
		errors.Is(err, chat.ErrGroupTooSmall),
		errors.Is(err, chat.ErrInvalidKind),
		errors.Is(err, chat.ErrEmptyContent),
		errors.Is(err, chat.ErrMissingFile),
		errors.Is(err, chat.ErrNotEditable),
		errors.Is(err, chat.ErrEmptyEmoji),
		errors.Is(err, chat.ErrInvalidStatus),
		errors.Is(err, chat.ErrNotGroup):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNotParticipant),
		errors.Is(err, chat.ErrNotSender),
		errors.Is(err, chat.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, repositories.ErrChatNotFound),
		errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
