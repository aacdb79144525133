package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts conversation persistence: membership,
// admin flags, unread counters and the last-message pointer.
type ChatRepository interface {
	CreateDirectChat(ctx context.Context, userID, otherID int) (models.Chat, bool, error)
	CreateGroupChat(ctx context.Context, creatorID int, name string, participantIDs []int) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	ListChatsForUser(ctx context.Context, userID int) ([]models.ChatSummary, error)
	UpdateGroupName(ctx context.Context, chatID int, name string) error
	DeleteChat(ctx context.Context, chatID int) error

	Participants(ctx context.Context, chatID int) ([]models.Participant, error)
	IsParticipant(ctx context.Context, chatID, userID int) (bool, error)
	IsAdmin(ctx context.Context, chatID, userID int) (bool, error)
	AddParticipants(ctx context.Context, chatID int, userIDs []int) error
	RemoveParticipant(ctx context.Context, chatID, userID int) error
	PromoteOldestParticipant(ctx context.Context, chatID int) error

	SetLastMessage(ctx context.Context, chatID, messageID int) error
	IncrementUnread(ctx context.Context, chatID, exceptUserID int) error
	ResetUnread(ctx context.Context, chatID, userID int) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `id, name, is_group, created_by, last_message_id, created_at, updated_at`

// CreateDirectChat returns the existing direct chat between the two
// users or creates one. The second result reports whether a chat was
// created. Direct membership is immutable after creation.
func (r *ChatRepo) CreateDirectChat(ctx context.Context, userID, otherID int) (models.Chat, bool, error) {
	if userID == otherID {
		return models.Chat{}, false, errors.New("cannot create chat with self")
	}

	var chat models.Chat
	query := `SELECT ` + chatColumns + ` FROM chats c
        WHERE c.is_group = FALSE
        AND EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id=c.id AND p.user_id=$1)
        AND EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id=c.id AND p.user_id=$2)`
	err := r.db.GetContext(ctx, &chat, query, userID, otherID)
	if err == nil {
		return chat, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, false, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, false, err
	}
	defer tx.Rollback()

	if err := tx.QueryRowxContext(ctx, `INSERT INTO chats (is_group, created_by) VALUES (FALSE, $1) RETURNING `+chatColumns, userID).
		StructScan(&chat); err != nil {
		return models.Chat{}, false, err
	}
	for _, id := range []int{userID, otherID} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, chat.ID, id); err != nil {
			return models.Chat{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Chat{}, false, err
	}
	return chat, true, nil
}

// CreateGroupChat creates a group with the creator as its first admin.
// participantIDs must not include the creator.
func (r *ChatRepo) CreateGroupChat(ctx context.Context, creatorID int, name string, participantIDs []int) (models.Chat, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer tx.Rollback()

	var chat models.Chat
	if err := tx.QueryRowxContext(ctx, `INSERT INTO chats (name, is_group, created_by) VALUES ($1, TRUE, $2) RETURNING `+chatColumns, name, creatorID).
		StructScan(&chat); err != nil {
		return models.Chat{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id, is_admin) VALUES ($1, $2, TRUE)`, chat.ID, creatorID); err != nil {
		return models.Chat{}, err
	}
	for _, id := range participantIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, chat.ID, id); err != nil {
			return models.Chat{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// ListChatsForUser returns the user's chats with their unread counter,
// most recently updated first.
func (r *ChatRepo) ListChatsForUser(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	query := `SELECT c.id, c.name, c.is_group, c.created_by, c.last_message_id, c.created_at, c.updated_at, p.unread_count
        FROM chats c
        JOIN chat_participants p ON p.chat_id = c.id AND p.user_id=$1
        ORDER BY c.updated_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ChatSummary
	for rows.Next() {
		var s models.ChatSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.IsGroup, &s.CreatedBy, &s.LastMessageID, &s.CreatedAt, &s.UpdatedAt, &s.UnreadCount); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// UpdateGroupName renames a group chat.
func (r *ChatRepo) UpdateGroupName(ctx context.Context, chatID int, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET name=$2, updated_at=NOW() WHERE id=$1 AND is_group = TRUE`, chatID, name)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat removes the chat; messages, receipts and reactions go with
// it through ON DELETE CASCADE.
func (r *ChatRepo) DeleteChat(ctx context.Context, chatID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// Participants lists membership rows ordered by join time.
func (r *ChatRepo) Participants(ctx context.Context, chatID int) ([]models.Participant, error) {
	var parts []models.Participant
	err := r.db.SelectContext(ctx, &parts, `SELECT chat_id, user_id, is_admin, unread_count, joined_at
        FROM chat_participants WHERE chat_id=$1 ORDER BY joined_at ASC`, chatID)
	return parts, err
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// IsAdmin checks whether a user administers the chat.
func (r *ChatRepo) IsAdmin(ctx context.Context, chatID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2 AND is_admin = TRUE)`, chatID, userID)
	return exists, err
}

// AddParticipants adds users to a group chat, skipping existing members.
func (r *ChatRepo) AddParticipants(ctx context.Context, chatID int, userIDs []int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id)
        SELECT $1, uid FROM unnest($2::int[]) AS uid
        ON CONFLICT DO NOTHING`, chatID, pq.Array(userIDs))
	return err
}

// RemoveParticipant drops a user's membership row.
func (r *ChatRepo) RemoveParticipant(ctx context.Context, chatID, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	return err
}

// PromoteOldestParticipant grants admin to the longest-standing member.
// Used when the last administrator leaves a non-empty group.
func (r *ChatRepo) PromoteOldestParticipant(ctx context.Context, chatID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET is_admin = TRUE
        WHERE chat_id=$1 AND user_id = (
            SELECT user_id FROM chat_participants WHERE chat_id=$1 ORDER BY joined_at ASC LIMIT 1
        )`, chatID)
	return err
}

// SetLastMessage moves the denormalized last-message pointer.
func (r *ChatRepo) SetLastMessage(ctx context.Context, chatID, messageID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET last_message_id=$2, updated_at=NOW() WHERE id=$1`, chatID, messageID)
	return err
}

// IncrementUnread bumps every participant's counter except the sender's.
// The increment happens in SQL so concurrent senders stay commutative;
// read-modify-write at the application level would lose updates.
func (r *ChatRepo) IncrementUnread(ctx context.Context, chatID, exceptUserID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET unread_count = unread_count + 1
        WHERE chat_id=$1 AND user_id <> $2`, chatID, exceptUserID)
	return err
}

// ResetUnread zeroes one participant's counter.
func (r *ChatRepo) ResetUnread(ctx context.Context, chatID, userID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET unread_count = 0
        WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	return err
}
