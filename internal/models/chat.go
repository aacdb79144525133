package models

import "time"

// Chat is a conversation: direct (exactly 2 participants, immutable
// membership) or group (3+ participants, mutable, at least one admin
// while any participant remains).
type Chat struct {
	ID            int       `db:"id" json:"id"`
	Name          string    `db:"name" json:"name,omitempty"`
	IsGroup       bool      `db:"is_group" json:"is_group"`
	CreatedBy     int       `db:"created_by" json:"created_by"`
	LastMessageID *int      `db:"last_message_id" json:"last_message_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Participant is a user's membership row in a chat, owning that user's
// unread counter for the conversation.
type Participant struct {
	ChatID      int       `db:"chat_id" json:"chat_id"`
	UserID      int       `db:"user_id" json:"user_id"`
	IsAdmin     bool      `db:"is_admin" json:"is_admin"`
	UnreadCount int       `db:"unread_count" json:"unread_count"`
	JoinedAt    time.Time `db:"joined_at" json:"joined_at"`
}

// ChatSummary is the per-user listing view of a chat.
type ChatSummary struct {
	Chat
	UnreadCount int      `json:"unread_count"`
	LastMessage *Message `json:"last_message,omitempty"`
}
