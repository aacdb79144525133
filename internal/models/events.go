package models

import (
	"encoding/json"
	"time"
)

// Outbound websocket event names.
const (
	EventNewMessage       = "new_message"
	EventMessageUpdated   = "message_updated"
	EventMessageDeleted   = "message_deleted"
	EventMessageReaction  = "message_reaction"
	EventUserTyping       = "user_typing"
	EventUserStatusChange = "user_status_change"
	EventReadReceipt      = "message_read_receipt"
	EventDeliveryReceipt  = "message_delivered_receipt"
	EventIncomingCall     = "incoming_call"
	EventCallAccepted     = "call_accepted"
	EventCallRejected     = "call_rejected"
	EventCallEnded        = "call_ended"
	EventICECandidate     = "ice_candidate"
)

// Event is the envelope every websocket frame carries, in both
// directions: a type tag plus a type-specific payload.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// MessageDeleted announces a delete-for-everyone. It carries ids only,
// never the cleared content.
type MessageDeleted struct {
	MessageID int `json:"message_id"`
	ChatID    int `json:"chat_id"`
}

// MessageReactions carries the full reaction list after any change.
type MessageReactions struct {
	MessageID int        `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

// UserTyping is broadcast to a chat, excluding the typist's sessions.
type UserTyping struct {
	ChatID   int  `json:"chat_id"`
	UserID   int  `json:"user_id"`
	IsTyping bool `json:"is_typing"`
}

// UserStatusChange is broadcast globally on presence transitions and
// explicit status changes.
type UserStatusChange struct {
	UserID   int       `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// CallerInfo identifies who is calling in an incoming_call event.
type CallerInfo struct {
	ID       int    `json:"id"`
	Username string `json:"username,omitempty"`
}

// IncomingCall is delivered to every session of the callee.
type IncomingCall struct {
	Signal   json.RawMessage `json:"signal"`
	From     string          `json:"from"`
	Caller   CallerInfo      `json:"caller"`
	CallType string          `json:"call_type"`
}

// CallAnswer carries the answer signal back to the caller's session.
type CallAnswer struct {
	Signal json.RawMessage `json:"signal"`
	From   int             `json:"from"`
}

// CallPeer identifies the peer in reject/end events.
type CallPeer struct {
	From int `json:"from"`
}

// ICECandidate relays a single ICE candidate between call peers.
type ICECandidate struct {
	Candidate json.RawMessage `json:"candidate"`
	From      int             `json:"from"`
}
