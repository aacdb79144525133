// Package chat coordinates conversation persistence: encryption at
// rest, membership checks, unread counters, receipts, reactions and the
// two soft-delete forms. The service returns data and never touches the
// transport; callers broadcast only after a write succeeds.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"messenger-service/internal/crypto"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

var (
	ErrNotParticipant = errors.New("user is not a participant of the chat")
	ErrNotSender      = errors.New("user is not the sender of the message")
	ErrNotGroup       = errors.New("chat is not a group")
	ErrNotAdmin       = errors.New("user is not an admin of the chat")
	ErrSelfChat       = errors.New("cannot start a chat with yourself")
	ErrEmptyName      = errors.New("group name is empty")
	ErrGroupTooSmall  = errors.New("a group needs at least two other participants")
	ErrInvalidKind    = errors.New("unknown message kind")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrMissingFile    = errors.New("message kind requires a file url")
	ErrNotEditable    = errors.New("message cannot be edited")
	ErrEmptyEmoji     = errors.New("reaction emoji is empty")
	ErrInvalidStatus  = errors.New("unknown user status")
)

// decryptFailedPlaceholder is shown instead of content that no longer
// decrypts, e.g. after a key rotation.
const decryptFailedPlaceholder = "[Decryption failed]"

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Service is the persistence coordinator for chats and messages.
type Service struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	cipher   *crypto.Cipher
}

func NewService(chats repositories.ChatRepository, messages repositories.MessageRepository,
	users repositories.UserRepository, cipher *crypto.Cipher) *Service {
	return &Service{chats: chats, messages: messages, users: users, cipher: cipher}
}

// SendMessageInput carries everything a new message needs. Content is
// plaintext; the service encrypts before the row is written.
type SendMessageInput struct {
	ChatID   int    `json:"chat_id"`
	SenderID int    `json:"-"`
	Kind     string `json:"kind"`
	Content  string `json:"content"`

	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`

	ReplyToID *int `json:"reply_to_id"`
}

// SendMessage validates, encrypts and persists a message, then moves
// the chat's last-message pointer and bumps every other participant's
// unread counter. The returned message carries plaintext content.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (models.Message, error) {
	if in.Kind == "" {
		in.Kind = models.KindText
	}
	if !models.ValidKind(in.Kind) {
		return models.Message{}, ErrInvalidKind
	}
	if in.Kind == models.KindText {
		if strings.TrimSpace(in.Content) == "" {
			return models.Message{}, ErrEmptyContent
		}
	} else if in.FileURL == "" {
		return models.Message{}, ErrMissingFile
	}
	if err := s.requireParticipant(ctx, in.ChatID, in.SenderID); err != nil {
		return models.Message{}, err
	}
	// A reply may only point into its own chat; a missing or foreign
	// target degrades the message to a plain send.
	if in.ReplyToID != nil {
		reply, err := s.messages.GetMessage(ctx, *in.ReplyToID)
		switch {
		case errors.Is(err, repositories.ErrMessageNotFound):
			in.ReplyToID = nil
		case err != nil:
			return models.Message{}, err
		case reply.ChatID != in.ChatID:
			in.ReplyToID = nil
		}
	}

	msg := models.Message{
		ChatID:    in.ChatID,
		SenderID:  in.SenderID,
		Kind:      in.Kind,
		Content:   in.Content,
		FileURL:   in.FileURL,
		FileName:  in.FileName,
		FileSize:  in.FileSize,
		MimeType:  in.MimeType,
		ReplyToID: in.ReplyToID,
	}
	if msg.Content != "" {
		ciphertext, err := s.cipher.Encrypt(msg.Content)
		if err != nil {
			return models.Message{}, err
		}
		msg.Content = ciphertext
		msg.Encrypted = true
	}

	stored, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		return models.Message{}, err
	}

	// The row is the source of truth; pointer and counters are
	// denormalized and must not fail an already persisted send.
	if err := s.chats.SetLastMessage(ctx, stored.ChatID, stored.ID); err != nil {
		zap.L().Error("set last message", zap.Int("chat_id", stored.ChatID), zap.Error(err))
	}
	if err := s.chats.IncrementUnread(ctx, stored.ChatID, stored.SenderID); err != nil {
		zap.L().Error("increment unread", zap.Int("chat_id", stored.ChatID), zap.Error(err))
	}

	stored.Content = in.Content
	stored.Encrypted = false
	return stored, nil
}

// EditMessage re-encrypts the new content of a sender's own text
// message. Deleted and non-text messages are not editable.
func (s *Service) EditMessage(ctx context.Context, messageID, editorID int, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyContent
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != editorID {
		return models.Message{}, ErrNotSender
	}
	if msg.IsDeleted || msg.Kind != models.KindText {
		return models.Message{}, ErrNotEditable
	}

	ciphertext, err := s.cipher.Encrypt(content)
	if err != nil {
		return models.Message{}, err
	}
	editedAt := time.Now().UTC()
	if err := s.messages.UpdateContent(ctx, messageID, ciphertext, editedAt); err != nil {
		return models.Message{}, err
	}

	msg.Content = content
	msg.Encrypted = false
	msg.IsEdited = true
	msg.EditedAt = &editedAt
	return msg, nil
}

// DeleteForEveryone clears a sender's own message for all participants.
// The row stays as a placeholder; only ids leave this method.
func (s *Service) DeleteForEveryone(ctx context.Context, messageID, userID int) (models.MessageDeleted, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.MessageDeleted{}, err
	}
	if msg.SenderID != userID {
		return models.MessageDeleted{}, ErrNotSender
	}
	if err := s.messages.MarkDeletedForAll(ctx, messageID, time.Now().UTC()); err != nil {
		return models.MessageDeleted{}, err
	}
	return models.MessageDeleted{MessageID: messageID, ChatID: msg.ChatID}, nil
}

// DeleteForMe hides a message from the requesting user only. No other
// participant's view changes, so nothing is broadcast for it.
func (s *Service) DeleteForMe(ctx context.Context, messageID, userID int) error {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.requireParticipant(ctx, msg.ChatID, userID); err != nil {
		return err
	}
	return s.messages.HideForUser(ctx, messageID, userID)
}

// AddReaction sets the user's reaction, replacing any previous one, and
// returns the chat id plus the message's full reaction list.
func (s *Service) AddReaction(ctx context.Context, messageID, userID int, emoji string) (int, models.MessageReactions, error) {
	if emoji == "" {
		return 0, models.MessageReactions{}, ErrEmptyEmoji
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return 0, models.MessageReactions{}, err
	}
	if err := s.requireParticipant(ctx, msg.ChatID, userID); err != nil {
		return 0, models.MessageReactions{}, err
	}
	if err := s.messages.UpsertReaction(ctx, messageID, userID, emoji); err != nil {
		return 0, models.MessageReactions{}, err
	}
	return s.reactionList(ctx, msg.ChatID, messageID)
}

// RemoveReaction drops the user's reaction and returns the remaining
// list. Removing a reaction that is not there is a no-op.
func (s *Service) RemoveReaction(ctx context.Context, messageID, userID int) (int, models.MessageReactions, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return 0, models.MessageReactions{}, err
	}
	if err := s.requireParticipant(ctx, msg.ChatID, userID); err != nil {
		return 0, models.MessageReactions{}, err
	}
	if err := s.messages.DeleteReaction(ctx, messageID, userID); err != nil {
		return 0, models.MessageReactions{}, err
	}
	return s.reactionList(ctx, msg.ChatID, messageID)
}

func (s *Service) reactionList(ctx context.Context, chatID, messageID int) (int, models.MessageReactions, error) {
	reactions, err := s.messages.ListReactions(ctx, messageID)
	if err != nil {
		return 0, models.MessageReactions{}, err
	}
	return chatID, models.MessageReactions{MessageID: messageID, Reactions: reactions}, nil
}

// MarkChatRead zeroes the user's unread counter and records read
// receipts for every message in the chat the user did not send.
func (s *Service) MarkChatRead(ctx context.Context, chatID, userID int) error {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.chats.ResetUnread(ctx, chatID, userID); err != nil {
		return err
	}
	return s.messages.MarkChatMessagesRead(ctx, chatID, userID)
}

// MarkMessageRead records a read receipt for a single message. Reading
// your own message is a no-op.
func (s *Service) MarkMessageRead(ctx context.Context, messageID, userID int) (models.ReadReceipt, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.ReadReceipt{}, err
	}
	if msg.SenderID == userID {
		return models.ReadReceipt{MessageID: messageID, UserID: userID}, nil
	}
	return s.messages.AddReadReceipt(ctx, messageID, userID)
}

// MarkMessageDelivered records a delivery receipt for a single message.
func (s *Service) MarkMessageDelivered(ctx context.Context, messageID, userID int) (models.DeliveryReceipt, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.DeliveryReceipt{}, err
	}
	if msg.SenderID == userID {
		return models.DeliveryReceipt{MessageID: messageID, UserID: userID}, nil
	}
	return s.messages.AddDeliveryReceipt(ctx, messageID, userID)
}

// UpdateUserStatus durably records a status transition and returns the
// change to broadcast.
func (s *Service) UpdateUserStatus(ctx context.Context, userID int, status string) (models.UserStatusChange, error) {
	if !models.ValidStatus(status) {
		return models.UserStatusChange{}, ErrInvalidStatus
	}
	lastSeen := time.Now().UTC()
	if err := s.users.UpdateStatus(ctx, userID, status, lastSeen); err != nil {
		return models.UserStatusChange{}, err
	}
	return models.UserStatusChange{UserID: userID, Status: status, LastSeen: lastSeen}, nil
}

// GetUser fetches a user's profile and presence fields.
func (s *Service) GetUser(ctx context.Context, userID int) (models.User, error) {
	return s.users.GetUser(ctx, userID)
}

// CreateDirectChat returns the existing direct chat with the other user
// or creates one. The bool reports whether a chat was created.
func (s *Service) CreateDirectChat(ctx context.Context, userID, otherID int) (models.Chat, bool, error) {
	if userID == otherID {
		return models.Chat{}, false, ErrSelfChat
	}
	if _, err := s.users.GetUser(ctx, otherID); err != nil {
		return models.Chat{}, false, err
	}
	return s.chats.CreateDirectChat(ctx, userID, otherID)
}

// CreateGroupChat creates a named group with the creator as admin. A
// group starts with at least three members, creator included.
func (s *Service) CreateGroupChat(ctx context.Context, creatorID int, name string, participantIDs []int) (models.Chat, error) {
	if strings.TrimSpace(name) == "" {
		return models.Chat{}, ErrEmptyName
	}
	others := make([]int, 0, len(participantIDs))
	for _, id := range participantIDs {
		if id != creatorID {
			others = append(others, id)
		}
	}
	if len(others) < 2 {
		return models.Chat{}, ErrGroupTooSmall
	}
	return s.chats.CreateGroupChat(ctx, creatorID, name, others)
}

// GetChat returns the chat if the requester participates in it.
func (s *Service) GetChat(ctx context.Context, chatID, userID int) (models.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// ListChats returns the user's chats with unread counters and decrypted
// last-message previews, most recently updated first.
func (s *Service) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	summaries, err := s.chats.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		if summaries[i].LastMessageID == nil {
			continue
		}
		msg, err := s.messages.GetMessage(ctx, *summaries[i].LastMessageID)
		if err != nil {
			if errors.Is(err, repositories.ErrMessageNotFound) {
				continue
			}
			return nil, err
		}
		view := s.decryptView(msg)
		summaries[i].LastMessage = &view
	}
	return summaries, nil
}

// Participants lists the chat's membership for a participant.
func (s *Service) Participants(ctx context.Context, chatID, userID int) ([]models.Participant, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.chats.Participants(ctx, chatID)
}

// RenameGroup renames a group chat. Admin only.
func (s *Service) RenameGroup(ctx context.Context, chatID, userID int, name string) (models.Chat, error) {
	if strings.TrimSpace(name) == "" {
		return models.Chat{}, ErrEmptyName
	}
	if _, err := s.requireGroupAdmin(ctx, chatID, userID); err != nil {
		return models.Chat{}, err
	}
	if err := s.chats.UpdateGroupName(ctx, chatID, name); err != nil {
		return models.Chat{}, err
	}
	return s.chats.GetChat(ctx, chatID)
}

// AddParticipants adds users to a group chat. Admin only; users already
// present are skipped.
func (s *Service) AddParticipants(ctx context.Context, chatID, actorID int, userIDs []int) error {
	if _, err := s.requireGroupAdmin(ctx, chatID, actorID); err != nil {
		return err
	}
	return s.chats.AddParticipants(ctx, chatID, userIDs)
}

// RemoveParticipant removes another user from a group chat. Admin only;
// leaving yourself goes through LeaveChat.
func (s *Service) RemoveParticipant(ctx context.Context, chatID, actorID, targetID int) error {
	if targetID == actorID {
		return s.LeaveChat(ctx, chatID, actorID)
	}
	if _, err := s.requireGroupAdmin(ctx, chatID, actorID); err != nil {
		return err
	}
	return s.chats.RemoveParticipant(ctx, chatID, targetID)
}

// LeaveChat removes the user from a group. An emptied group is deleted;
// a group left without admins promotes its longest-standing member.
func (s *Service) LeaveChat(ctx context.Context, chatID, userID int) error {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsGroup {
		return ErrNotGroup
	}
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	wasAdmin, err := s.chats.IsAdmin(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if err := s.chats.RemoveParticipant(ctx, chatID, userID); err != nil {
		return err
	}

	remaining, err := s.chats.Participants(ctx, chatID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return s.chats.DeleteChat(ctx, chatID)
	}
	if wasAdmin && !anyAdmin(remaining) {
		return s.chats.PromoteOldestParticipant(ctx, chatID)
	}
	return nil
}

// DeleteChat deletes a conversation and everything under it. Groups
// require admin; direct chats any participant.
func (s *Service) DeleteChat(ctx context.Context, chatID, userID int) error {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.IsGroup {
		if _, err := s.requireGroupAdmin(ctx, chatID, userID); err != nil {
			return err
		}
	} else if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	return s.chats.DeleteChat(ctx, chatID)
}

// ListMessages returns a decrypted page of the user's view of the chat,
// newest first, plus the total visible count.
func (s *Service) ListMessages(ctx context.Context, chatID, userID, limit, offset int) ([]models.Message, int, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := s.messages.ListChatMessages(ctx, chatID, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.messages.CountChatMessages(ctx, chatID, userID)
	if err != nil {
		return nil, 0, err
	}
	for i := range msgs {
		msgs[i] = s.decryptView(msgs[i])
	}
	return msgs, total, nil
}

// decryptView converts a stored message into its plaintext view.
// Undecryptable content becomes a placeholder rather than an error so
// one bad row cannot blank a whole history page.
func (s *Service) decryptView(msg models.Message) models.Message {
	if !msg.Encrypted || msg.Content == "" {
		return msg
	}
	plain, err := s.cipher.Decrypt(msg.Content)
	if err != nil {
		zap.L().Warn("decrypt message", zap.Int("message_id", msg.ID), zap.Error(err))
		msg.Content = decryptFailedPlaceholder
	} else {
		msg.Content = plain
	}
	msg.Encrypted = false
	return msg
}

func (s *Service) requireParticipant(ctx context.Context, chatID, userID int) error {
	ok, err := s.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

func (s *Service) requireGroupAdmin(ctx context.Context, chatID, userID int) (models.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.IsGroup {
		return models.Chat{}, ErrNotGroup
	}
	admin, err := s.chats.IsAdmin(ctx, chatID, userID)
	if err != nil {
		return models.Chat{}, err
	}
	if !admin {
		return models.Chat{}, ErrNotAdmin
	}
	return chat, nil
}

func anyAdmin(parts []models.Participant) bool {
	for _, p := range parts {
		if p.IsAdmin {
			return true
		}
	}
	return false
}
