package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository abstracts message persistence, including receipts,
// reactions and the two soft-delete forms.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListChatMessages(ctx context.Context, chatID, userID, limit, offset int) ([]models.Message, error)
	CountChatMessages(ctx context.Context, chatID, userID int) (int, error)

	UpdateContent(ctx context.Context, messageID int, content string, editedAt time.Time) error
	MarkDeletedForAll(ctx context.Context, messageID int, at time.Time) error
	HideForUser(ctx context.Context, messageID, userID int) error

	UpsertReaction(ctx context.Context, messageID, userID int, emoji string) error
	DeleteReaction(ctx context.Context, messageID, userID int) error
	ListReactions(ctx context.Context, messageID int) ([]models.Reaction, error)

	AddReadReceipt(ctx context.Context, messageID, userID int) (models.ReadReceipt, error)
	AddDeliveryReceipt(ctx context.Context, messageID, userID int) (models.DeliveryReceipt, error)
	MarkChatMessagesRead(ctx context.Context, chatID, userID int) error
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, kind, content, encrypted, file_url, file_name, file_size, mime_type,
    reply_to_id, is_edited, edited_at, is_deleted, deleted_at, created_at`

// CreateMessage stores a message row. Content must already be encrypted
// by the caller when msg.Encrypted is set.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages
        (chat_id, sender_id, kind, content, encrypted, file_url, file_name, file_size, mime_type, reply_to_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING `+messageColumns,
		msg.ChatID, msg.SenderID, msg.Kind, msg.Content, msg.Encrypted,
		msg.FileURL, msg.FileName, msg.FileSize, msg.MimeType, msg.ReplyToID).
		StructScan(&stored)
	return stored, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListChatMessages returns a page of messages for the user's view,
// newest first. Messages deleted for everyone stay visible as
// placeholders; messages the user deleted for themselves are excluded.
func (r *MessageRepo) ListChatMessages(ctx context.Context, chatID, userID, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages m
        WHERE m.chat_id=$1
        AND NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id=m.id AND h.user_id=$2)
        ORDER BY m.created_at DESC
        LIMIT $3 OFFSET $4`, chatID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if err := r.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// CountChatMessages counts the messages visible to the user.
func (r *MessageRepo) CountChatMessages(ctx context.Context, chatID, userID int) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages m
        WHERE m.chat_id=$1
        AND NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id=m.id AND h.user_id=$2)`, chatID, userID)
	return total, err
}

func (r *MessageRepo) attachReactions(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	var reactions []models.Reaction
	err := r.db.SelectContext(ctx, &reactions, `SELECT message_id, user_id, emoji, created_at
        FROM message_reactions WHERE message_id = ANY($1) ORDER BY created_at ASC`, pq.Array(ids))
	if err != nil {
		return err
	}
	byMessage := make(map[int][]models.Reaction, len(msgs))
	for _, re := range reactions {
		byMessage[re.MessageID] = append(byMessage[re.MessageID], re)
	}
	for i := range msgs {
		msgs[i].Reactions = byMessage[msgs[i].ID]
	}
	return nil
}

// UpdateContent re-writes an edited message's ciphertext and stamps it.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int, content string, editedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content=$2, is_edited = TRUE, edited_at=$3 WHERE id=$1`,
		messageID, content, editedAt)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkDeletedForAll clears content and flags the message deleted.
func (r *MessageRepo) MarkDeletedForAll(ctx context.Context, messageID int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content='', encrypted = FALSE, is_deleted = TRUE, deleted_at=$2 WHERE id=$1`,
		messageID, at)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// HideForUser records a delete-for-me exclusion. Idempotent.
func (r *MessageRepo) HideForUser(ctx context.Context, messageID, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_hidden (message_id, user_id) VALUES ($1, $2)
        ON CONFLICT DO NOTHING`, messageID, userID)
	return err
}

// UpsertReaction replaces any prior reaction by the same user.
func (r *MessageRepo) UpsertReaction(ctx context.Context, messageID, userID int, emoji string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji, created_at = NOW()`,
		messageID, userID, emoji)
	return err
}

// DeleteReaction removes the user's reaction if present.
func (r *MessageRepo) DeleteReaction(ctx context.Context, messageID, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2`, messageID, userID)
	return err
}

// ListReactions returns the message's reactions in insertion order.
func (r *MessageRepo) ListReactions(ctx context.Context, messageID int) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.SelectContext(ctx, &reactions, `SELECT message_id, user_id, emoji, created_at
        FROM message_reactions WHERE message_id=$1 ORDER BY created_at ASC`, messageID)
	return reactions, err
}

// AddReadReceipt appends a read receipt, deduplicated by user.
func (r *MessageRepo) AddReadReceipt(ctx context.Context, messageID, userID int) (models.ReadReceipt, error) {
	receipt := models.ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: time.Now().UTC()}
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING`, messageID, userID, receipt.ReadAt)
	return receipt, err
}

// AddDeliveryReceipt appends a delivery receipt, deduplicated by user.
func (r *MessageRepo) AddDeliveryReceipt(ctx context.Context, messageID, userID int) (models.DeliveryReceipt, error) {
	receipt := models.DeliveryReceipt{MessageID: messageID, UserID: userID, DeliveredAt: time.Now().UTC()}
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_deliveries (message_id, user_id, delivered_at) VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING`, messageID, userID, receipt.DeliveredAt)
	return receipt, err
}

// MarkChatMessagesRead appends read receipts for every message in the
// chat the user did not send and has not read yet.
func (r *MessageRepo) MarkChatMessagesRead(ctx context.Context, chatID, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id)
        SELECT m.id, $2 FROM messages m WHERE m.chat_id=$1 AND m.sender_id <> $2
        ON CONFLICT DO NOTHING`, chatID, userID)
	return err
}
