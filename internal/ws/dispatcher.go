package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"messenger-service/internal/auth"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// Inbound event names accepted from clients.
const (
	eventJoinChat         = "join_chat"
	eventLeaveChat        = "leave_chat"
	eventTypingStart      = "typing_start"
	eventTypingStop       = "typing_stop"
	eventMessageRead      = "message_read"
	eventMessageDelivered = "message_delivered"
	eventChangeStatus     = "change_status"
	eventCallUser         = "call_user"
	eventAnswerCall       = "answer_call"
	eventRejectCall       = "reject_call"
	eventEndCall          = "end_call"
	eventICECandidate     = "ice_candidate"
)

const persistTimeout = 5 * time.Second

// Coordinator is what the dispatcher needs from the persistence layer:
// receipt and status writes plus user lookup for call caller info. All
// writes here are fire-and-forget relative to the live relay.
type Coordinator interface {
	MarkMessageRead(ctx context.Context, messageID, userID int) (models.ReadReceipt, error)
	MarkMessageDelivered(ctx context.Context, messageID, userID int) (models.DeliveryReceipt, error)
	UpdateUserStatus(ctx context.Context, userID int, status string) (models.UserStatusChange, error)
	GetUser(ctx context.Context, userID int) (models.User, error)
}

// Dispatcher owns the websocket endpoint: it authenticates the
// handshake, runs each session's pumps, and routes inbound events to
// the hub, the call relay, and the coordinator.
type Dispatcher struct {
	hub         *Hub
	relay       *CallRelay
	verifier    auth.Verifier
	coordinator Coordinator
	upgrader    websocket.Upgrader
}

func NewDispatcher(hub *Hub, relay *CallRelay, verifier auth.Verifier, coordinator Coordinator) *Dispatcher {
	return &Dispatcher{
		hub:         hub,
		relay:       relay,
		verifier:    verifier,
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades GET /ws. The token is verified before the upgrade so
// a bad credential is refused with 401 and never registers a session.
func (d *Dispatcher) Handle(c *gin.Context) {
	token := tokenFromRequest(c)
	userID, err := d.verifier.Verify(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := d.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade", zap.Int("user_id", userID), zap.Error(err))
		return
	}

	client := NewClient(conn, userID)
	client.setState(stateAuthenticating)
	meta := lifecycleMeta{
		requestID: observability.RequestIDFromRequest(c.Request),
		ip:        observability.IPFromRequest(c.Request),
	}
	if span := trace.SpanContextFromContext(c.Request.Context()); span.HasTraceID() {
		meta.traceID = span.TraceID().String()
	}

	first := d.hub.Register(client)
	client.setState(stateActive)
	observability.IncWSActive()
	zap.L().Info("session connected",
		zap.String("session_id", client.ID), zap.Int("user_id", userID), zap.Bool("first", first))

	d.publishLifecycle(c.Request.Context(), "ws_connect", client, meta)
	if first {
		d.changeStatus(client, models.StatusOnline)
	}

	go client.writePump()
	client.readPump(d.handleEvent)

	d.disconnect(client, meta)
}

type lifecycleMeta struct {
	requestID string
	ip        string
	traceID   string
}

func (d *Dispatcher) disconnect(client *Client, meta lifecycleMeta) {
	_, last, ok := d.hub.Unregister(client.ID)
	observability.DecWSActive()
	zap.L().Info("session disconnected",
		zap.String("session_id", client.ID), zap.Int("user_id", client.UserID), zap.Bool("last", last))

	d.publishLifecycle(context.Background(), "ws_disconnect", client, meta)
	if ok && last {
		d.changeStatus(client, models.StatusOffline)
	}
}

// changeStatus persists the durable status and broadcasts the change to
// every other connected session. The broadcast never waits on the
// write: presence is live state, the row is trailing record.
func (d *Dispatcher) changeStatus(client *Client, status string) {
	change := models.UserStatusChange{UserID: client.UserID, Status: status, LastSeen: time.Now().UTC()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if _, err := d.coordinator.UpdateUserStatus(ctx, client.UserID, status); err != nil {
			zap.L().Error("persist status", zap.Int("user_id", client.UserID), zap.Error(err))
		}
	}()
	d.hub.BroadcastGlobal(models.Event{Type: models.EventUserStatusChange, Payload: change}, ExcludeSession(client.ID))
}

func (d *Dispatcher) publishLifecycle(ctx context.Context, name string, client *Client, meta lifecycleMeta) {
	event := observability.WSLifecycle{
		Name:      name,
		SessionID: client.ID,
		UserID:    client.UserID,
		IP:        meta.ip,
	}
	if err := observability.PublishWSLifecycle(ctx, event, meta.requestID, meta.traceID); err != nil {
		zap.L().Warn("publish lifecycle event", zap.String("event", name), zap.Error(err))
	}
}

type chatRef struct {
	ChatID int `json:"chat_id"`
}

type receiptRef struct {
	MessageID int `json:"message_id"`
	ChatID    int `json:"chat_id"`
}

type statusRef struct {
	Status string `json:"status"`
}

type callOffer struct {
	TargetUserID int             `json:"target_user_id"`
	Signal       json.RawMessage `json:"signal"`
	CallType     string          `json:"call_type"`
}

type callSignal struct {
	TargetSessionID string          `json:"target_session_id"`
	Signal          json.RawMessage `json:"signal"`
}

type callPeerRef struct {
	TargetSessionID string `json:"target_session_id"`
}

type candidateRef struct {
	TargetSessionID string          `json:"target_session_id"`
	Candidate       json.RawMessage `json:"candidate"`
}

func (d *Dispatcher) handleEvent(client *Client, event inboundEvent) {
	observability.IncWSEvent(event.Type)

	switch event.Type {
	case eventJoinChat:
		var ref chatRef
		if decode(client, event, &ref) {
			d.hub.JoinChat(ref.ChatID, client.ID)
		}
	case eventLeaveChat:
		var ref chatRef
		if decode(client, event, &ref) {
			d.hub.LeaveChat(ref.ChatID, client.ID)
		}
	case eventTypingStart, eventTypingStop:
		var ref chatRef
		if decode(client, event, &ref) {
			d.hub.BroadcastToChat(ref.ChatID, models.Event{
				Type: models.EventUserTyping,
				Payload: models.UserTyping{
					ChatID:   ref.ChatID,
					UserID:   client.UserID,
					IsTyping: event.Type == eventTypingStart,
				},
			}, ExcludeUser(client.UserID))
		}
	case eventMessageRead:
		d.handleReceipt(client, event, true)
	case eventMessageDelivered:
		d.handleReceipt(client, event, false)
	case eventChangeStatus:
		var ref statusRef
		if !decode(client, event, &ref) {
			return
		}
		if !models.ValidStatus(ref.Status) {
			zap.L().Warn("invalid status", zap.String("status", ref.Status), zap.Int("user_id", client.UserID))
			return
		}
		d.changeStatus(client, ref.Status)
	case eventCallUser:
		d.handleCallOffer(client, event)
	case eventAnswerCall:
		var sig callSignal
		if decode(client, event, &sig) {
			d.sendToPeer(sig.TargetSessionID, d.relay.Answer(client.UserID, sig.Signal))
		}
	case eventRejectCall:
		var ref callPeerRef
		if decode(client, event, &ref) {
			d.sendToPeer(ref.TargetSessionID, d.relay.Reject(client.UserID))
		}
	case eventEndCall:
		var ref callPeerRef
		if decode(client, event, &ref) {
			d.sendToPeer(ref.TargetSessionID, d.relay.End(client.UserID))
		}
	case eventICECandidate:
		var ref candidateRef
		if decode(client, event, &ref) {
			d.sendToPeer(ref.TargetSessionID, d.relay.Candidate(client.UserID, ref.Candidate))
		}
	default:
		zap.L().Warn("unknown event", zap.String("event", event.Type), zap.String("session_id", client.ID))
	}
}

// handleReceipt relays the receipt to the chat (minus the reader's own
// session) and records it without blocking the relay.
func (d *Dispatcher) handleReceipt(client *Client, event inboundEvent, read bool) {
	var ref receiptRef
	if !decode(client, event, &ref) {
		return
	}

	outType := models.EventDeliveryReceipt
	timestampKey := "delivered_at"
	if read {
		outType = models.EventReadReceipt
		timestampKey = "read_at"
	}
	d.hub.BroadcastToChat(ref.ChatID, models.Event{
		Type: outType,
		Payload: map[string]any{
			"message_id": ref.MessageID,
			"chat_id":    ref.ChatID,
			"user_id":    client.UserID,
			timestampKey: time.Now().UTC(),
		},
	}, ExcludeSession(client.ID))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		var err error
		if read {
			_, err = d.coordinator.MarkMessageRead(ctx, ref.MessageID, client.UserID)
		} else {
			_, err = d.coordinator.MarkMessageDelivered(ctx, ref.MessageID, client.UserID)
		}
		if err != nil {
			zap.L().Error("persist receipt",
				zap.Int("message_id", ref.MessageID), zap.Int("user_id", client.UserID), zap.Error(err))
		}
	}()
}

// handleCallOffer fans the offer out to every session of the callee. An
// offline callee means no delivery at all; the caller times out on
// their side.
func (d *Dispatcher) handleCallOffer(client *Client, event inboundEvent) {
	var offer callOffer
	if !decode(client, event, &offer) {
		return
	}

	caller := models.CallerInfo{ID: client.UserID}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if user, err := d.coordinator.GetUser(ctx, client.UserID); err == nil {
		caller.Username = user.Username
	}

	sessions, out := d.relay.Initiate(client.ID, caller, offer.TargetUserID, offer.Signal, offer.CallType)
	if len(sessions) == 0 {
		zap.L().Info("call target offline",
			zap.Int("caller_id", client.UserID), zap.Int("target_id", offer.TargetUserID))
		return
	}
	for _, sessionID := range sessions {
		d.hub.SendToSession(sessionID, out)
	}
}

func (d *Dispatcher) sendToPeer(sessionID string, event models.Event) {
	if sessionID == "" {
		return
	}
	if !d.hub.SendToSession(sessionID, event) {
		zap.L().Info("call peer gone", zap.String("session_id", sessionID), zap.String("event", event.Type))
	}
}

func decode(client *Client, event inboundEvent, dst any) bool {
	if err := json.Unmarshal(event.Payload, dst); err != nil {
		zap.L().Warn("malformed payload",
			zap.String("event", event.Type), zap.String("session_id", client.ID), zap.Error(err))
		return false
	}
	return true
}

func tokenFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
