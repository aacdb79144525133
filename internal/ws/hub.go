package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
)

// Hub routes outbound events to sessions. It owns the chat-scoped
// broadcast rooms; per-user personal scopes come from the presence
// registry. Components never write to connections directly: they hand
// events to the hub (via the dispatcher) and the hub fans out.
type Hub struct {
	mu       sync.RWMutex
	registry presence.Registry
	sessions map[string]*Client
	// rooms maps chatID to the session ids joined to that chat.
	rooms map[int]map[string]struct{}
	// sessionRooms tracks the inverse for cleanup on disconnect.
	sessionRooms map[string]map[int]struct{}
}

// NewHub creates an empty hub over the given registry.
func NewHub(registry presence.Registry) *Hub {
	return &Hub{
		registry:     registry,
		sessions:     make(map[string]*Client),
		rooms:        make(map[int]map[string]struct{}),
		sessionRooms: make(map[string]map[int]struct{}),
	}
}

// Register adds a session and reports whether its owner just came
// online (first session for that user).
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	h.sessions[client.ID] = client
	h.mu.Unlock()
	return h.registry.Register(client.ID, client.UserID)
}

// Unregister removes a session, leaving every room it joined. It
// reports the owning user and whether that user just went offline.
func (h *Hub) Unregister(sessionID string) (userID int, last bool, ok bool) {
	h.mu.Lock()
	if client, exists := h.sessions[sessionID]; exists {
		delete(h.sessions, sessionID)
		client.closeSend()
	}
	for chatID := range h.sessionRooms[sessionID] {
		h.removeFromRoom(chatID, sessionID)
	}
	delete(h.sessionRooms, sessionID)
	h.mu.Unlock()

	return h.registry.Deregister(sessionID)
}

// JoinChat adds the session to a chat's broadcast room. Idempotent;
// membership authorization happened at the REST boundary.
func (h *Hub) JoinChat(chatID int, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionID]; !ok {
		return
	}
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[string]struct{})
	}
	h.rooms[chatID][sessionID] = struct{}{}
	if _, ok := h.sessionRooms[sessionID]; !ok {
		h.sessionRooms[sessionID] = make(map[int]struct{})
	}
	h.sessionRooms[sessionID][chatID] = struct{}{}
}

// LeaveChat removes the session from a chat's broadcast room.
func (h *Hub) LeaveChat(chatID int, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoom(chatID, sessionID)
	if rooms, ok := h.sessionRooms[sessionID]; ok {
		delete(rooms, chatID)
	}
}

// removeFromRoom must be called with h.mu held.
func (h *Hub) removeFromRoom(chatID int, sessionID string) {
	if members, ok := h.rooms[chatID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// RoomSize returns the number of sessions joined to a chat.
func (h *Hub) RoomSize(chatID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// BroadcastOption narrows the target set of a broadcast.
type BroadcastOption func(*broadcastFilter)

type broadcastFilter struct {
	excludeSession string
	excludeUser    int
}

// ExcludeSession drops a single session from the fan-out, typically the
// event's originator when their other devices should still receive it.
func ExcludeSession(sessionID string) BroadcastOption {
	return func(f *broadcastFilter) { f.excludeSession = sessionID }
}

// ExcludeUser drops every session of a user, e.g. the typist for
// typing indicators.
func ExcludeUser(userID int) BroadcastOption {
	return func(f *broadcastFilter) { f.excludeUser = userID }
}

// BroadcastToChat fans an event out to every session joined to the chat.
func (h *Hub) BroadcastToChat(chatID int, event models.Event, opts ...BroadcastOption) {
	filter := applyOptions(opts)
	payload, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("marshal event", zap.String("event", event.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[chatID]))
	for sessionID := range h.rooms[chatID] {
		if client := h.sessions[sessionID]; client != nil && filter.allows(client) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	observability.IncBroadcast("chat")
	h.deliver(targets, payload)
}

// BroadcastToUser sends an event to every session in the user's
// personal scope, regardless of joined chats.
func (h *Hub) BroadcastToUser(userID int, event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("marshal event", zap.String("event", event.Type), zap.Error(err))
		return
	}

	sessionIDs := h.registry.SessionsFor(userID)
	h.mu.RLock()
	targets := make([]*Client, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if client := h.sessions[id]; client != nil {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	observability.IncBroadcast("user")
	h.deliver(targets, payload)
}

// SendToSession delivers an event to exactly one session. It reports
// whether the session was found.
func (h *Hub) SendToSession(sessionID string, event models.Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("marshal event", zap.String("event", event.Type), zap.Error(err))
		return false
	}

	h.mu.RLock()
	client := h.sessions[sessionID]
	h.mu.RUnlock()
	if client == nil {
		return false
	}

	observability.IncBroadcast("session")
	h.deliver([]*Client{client}, payload)
	return true
}

// BroadcastGlobal sends an event to every connected session. Used for
// presence and status changes.
func (h *Hub) BroadcastGlobal(event models.Event, opts ...BroadcastOption) {
	filter := applyOptions(opts)
	payload, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("marshal event", zap.String("event", event.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions))
	for _, client := range h.sessions {
		if filter.allows(client) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	observability.IncBroadcast("global")
	h.deliver(targets, payload)
}

func applyOptions(opts []BroadcastOption) broadcastFilter {
	var filter broadcastFilter
	for _, opt := range opts {
		opt(&filter)
	}
	return filter
}

func (f broadcastFilter) allows(client *Client) bool {
	if f.excludeSession != "" && client.ID == f.excludeSession {
		return false
	}
	if f.excludeUser != 0 && client.UserID == f.excludeUser {
		return false
	}
	return true
}

// deliver pushes the frame to each client's send queue. A client whose
// queue is full is disconnected rather than allowed to stall fan-out.
func (h *Hub) deliver(targets []*Client, payload []byte) {
	for _, client := range targets {
		if !client.enqueue(payload) {
			zap.L().Warn("send queue full, dropping session",
				zap.String("session_id", client.ID), zap.Int("user_id", client.UserID))
			client.conn.Close()
		}
	}
}
