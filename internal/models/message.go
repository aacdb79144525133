package models

import "time"

// Message kinds. Text content is encrypted at rest; every other kind
// must carry a file reference.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindFile     = "file"
	KindLocation = "location"
)

// ValidKind reports whether k is a known message kind.
func ValidKind(k string) bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindFile, KindLocation:
		return true
	}
	return false
}

// Message belongs to exactly one chat and dies with it. Content holds
// ciphertext in the store; repositories and the chat service hand out
// decrypted copies only.
type Message struct {
	ID        int    `db:"id" json:"id"`
	ChatID    int    `db:"chat_id" json:"chat_id"`
	SenderID  int    `db:"sender_id" json:"sender_id"`
	Kind      string `db:"kind" json:"kind"`
	Content   string `db:"content" json:"content"`
	Encrypted bool   `db:"encrypted" json:"-"`

	FileURL  string `db:"file_url" json:"file_url,omitempty"`
	FileName string `db:"file_name" json:"file_name,omitempty"`
	FileSize int64  `db:"file_size" json:"file_size,omitempty"`
	MimeType string `db:"mime_type" json:"mime_type,omitempty"`

	ReplyToID *int `db:"reply_to_id" json:"reply_to_id,omitempty"`

	IsEdited bool       `db:"is_edited" json:"is_edited"`
	EditedAt *time.Time `db:"edited_at" json:"edited_at,omitempty"`

	IsDeleted bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`

	Reactions []Reaction `json:"reactions,omitempty"`
}

// Reaction is a user's emoji on a message, at most one per user.
type Reaction struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReadReceipt records that a user read a message. Append-only,
// deduplicated by user.
type ReadReceipt struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// DeliveryReceipt records that a message reached a user's device.
type DeliveryReceipt struct {
	MessageID   int       `db:"message_id" json:"message_id"`
	UserID      int       `db:"user_id" json:"user_id"`
	DeliveredAt time.Time `db:"delivered_at" json:"delivered_at"`
}
