package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/auth"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
)

type coordinatorMock struct {
	mock.Mock
}

func (m *coordinatorMock) MarkMessageRead(ctx context.Context, messageID, userID int) (models.ReadReceipt, error) {
	args := m.Called(ctx, messageID, userID)
	return args.Get(0).(models.ReadReceipt), args.Error(1)
}

func (m *coordinatorMock) MarkMessageDelivered(ctx context.Context, messageID, userID int) (models.DeliveryReceipt, error) {
	args := m.Called(ctx, messageID, userID)
	return args.Get(0).(models.DeliveryReceipt), args.Error(1)
}

func (m *coordinatorMock) UpdateUserStatus(ctx context.Context, userID int, status string) (models.UserStatusChange, error) {
	args := m.Called(ctx, userID, status)
	return args.Get(0).(models.UserStatusChange), args.Error(1)
}

func (m *coordinatorMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.User), args.Error(1)
}

type dispatcherFixture struct {
	hub      *Hub
	registry *presence.InMemoryRegistry
	verifier *auth.JWTVerifier
	server   *httptest.Server
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := presence.NewInMemoryRegistry()
	hub := NewHub(registry)
	verifier := auth.NewJWTVerifier("test-secret")

	coordinator := new(coordinatorMock)
	coordinator.On("UpdateUserStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(models.UserStatusChange{}, nil).Maybe()
	coordinator.On("GetUser", mock.Anything, mock.Anything).
		Return(models.User{ID: 1, Username: "alice"}, nil).Maybe()
	coordinator.On("MarkMessageRead", mock.Anything, mock.Anything, mock.Anything).
		Return(models.ReadReceipt{}, nil).Maybe()
	coordinator.On("MarkMessageDelivered", mock.Anything, mock.Anything, mock.Anything).
		Return(models.DeliveryReceipt{}, nil).Maybe()

	dispatcher := NewDispatcher(hub, NewCallRelay(registry), verifier, coordinator)

	router := gin.New()
	router.GET("/ws", dispatcher.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &dispatcherFixture{hub: hub, registry: registry, verifier: verifier, server: server}
}

func (f *dispatcherFixture) dial(t *testing.T, userID int) *websocket.Conn {
	t.Helper()
	token, err := f.verifier.Sign(userID, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(models.Event{Type: eventType, Payload: payload}))
}

// waitFor reads frames until one of the wanted type arrives, skipping
// unrelated traffic like presence broadcasts.
func waitFor(t *testing.T, conn *websocket.Conn, eventType string) inboundEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var event inboundEvent
		require.NoError(t, conn.ReadJSON(&event), "waiting for %s", eventType)
		if event.Type == eventType {
			return event
		}
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	f := newDispatcherFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, f.registry.OnlineUserIDs())
}

func TestConnectBroadcastsOnline(t *testing.T) {
	f := newDispatcherFixture(t)

	alice := f.dial(t, 1)
	_ = f.dial(t, 2)

	for {
		event := waitFor(t, alice, models.EventUserStatusChange)
		var change models.UserStatusChange
		require.NoError(t, json.Unmarshal(event.Payload, &change))
		if change.UserID == 2 {
			assert.Equal(t, models.StatusOnline, change.Status)
			return
		}
	}
}

func TestStatusChangeSkipsEmittingSession(t *testing.T) {
	f := newDispatcherFixture(t)

	phone := f.dial(t, 1)
	laptop := f.dial(t, 1)
	require.Eventually(t, func() bool { return len(f.registry.SessionsFor(1)) == 2 }, 2*time.Second, 10*time.Millisecond)

	send(t, phone, eventChangeStatus, statusRef{Status: models.StatusAway})

	event := waitFor(t, laptop, models.EventUserStatusChange)
	var change models.UserStatusChange
	require.NoError(t, json.Unmarshal(event.Payload, &change))
	assert.Equal(t, 1, change.UserID)
	assert.Equal(t, models.StatusAway, change.Status)

	// The session that sent the change must not hear its own echo.
	require.NoError(t, phone.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var stray inboundEvent
	for {
		if err := phone.ReadJSON(&stray); err != nil {
			break
		}
		assert.NotEqual(t, models.EventUserStatusChange, stray.Type)
	}
}

func TestTypingExcludesTypist(t *testing.T) {
	f := newDispatcherFixture(t)

	alice := f.dial(t, 1)
	bob := f.dial(t, 2)

	send(t, alice, eventJoinChat, chatRef{ChatID: 5})
	send(t, bob, eventJoinChat, chatRef{ChatID: 5})
	require.Eventually(t, func() bool { return f.hub.RoomSize(5) == 2 }, 2*time.Second, 10*time.Millisecond)

	send(t, alice, eventTypingStart, chatRef{ChatID: 5})

	event := waitFor(t, bob, models.EventUserTyping)
	var typing models.UserTyping
	require.NoError(t, json.Unmarshal(event.Payload, &typing))
	assert.Equal(t, 1, typing.UserID)
	assert.Equal(t, 5, typing.ChatID)
	assert.True(t, typing.IsTyping)

	// The typist's own session must not receive the indicator.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var stray inboundEvent
	for {
		if err := alice.ReadJSON(&stray); err != nil {
			break
		}
		assert.NotEqual(t, models.EventUserTyping, stray.Type)
	}
}

func TestCallSignalingRoundTrip(t *testing.T) {
	f := newDispatcherFixture(t)

	alice := f.dial(t, 1)
	bob := f.dial(t, 2)
	require.Eventually(t, func() bool { return f.registry.IsOnline(2) }, 2*time.Second, 10*time.Millisecond)

	send(t, alice, eventCallUser, callOffer{
		TargetUserID: 2,
		Signal:       json.RawMessage(`{"sdp":"offer"}`),
		CallType:     "video",
	})

	incoming := waitFor(t, bob, models.EventIncomingCall)
	var offer models.IncomingCall
	require.NoError(t, json.Unmarshal(incoming.Payload, &offer))
	assert.Equal(t, 1, offer.Caller.ID)
	assert.Equal(t, "video", offer.CallType)
	require.NotEmpty(t, offer.From)

	send(t, bob, eventAnswerCall, callSignal{
		TargetSessionID: offer.From,
		Signal:          json.RawMessage(`{"sdp":"answer"}`),
	})

	accepted := waitFor(t, alice, models.EventCallAccepted)
	var answer models.CallAnswer
	require.NoError(t, json.Unmarshal(accepted.Payload, &answer))
	assert.Equal(t, 2, answer.From)
	assert.JSONEq(t, `{"sdp":"answer"}`, string(answer.Signal))

	send(t, bob, eventEndCall, callPeerRef{TargetSessionID: offer.From})
	ended := waitFor(t, alice, models.EventCallEnded)
	var peer models.CallPeer
	require.NoError(t, json.Unmarshal(ended.Payload, &peer))
	assert.Equal(t, 2, peer.From)
}

func TestCallOfferToOfflineUserIsDropped(t *testing.T) {
	f := newDispatcherFixture(t)

	alice := f.dial(t, 1)
	send(t, alice, eventCallUser, callOffer{TargetUserID: 99, Signal: json.RawMessage(`{}`), CallType: "audio"})

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var event inboundEvent
	for {
		if err := alice.ReadJSON(&event); err != nil {
			break
		}
		assert.NotEqual(t, models.EventIncomingCall, event.Type)
	}
	assert.True(t, f.registry.IsOnline(1))
}

func TestLifecyclePublishesBrokerEvents(t *testing.T) {
	f := newDispatcherFixture(t)

	publisher := new(mocks.PublisherMock)
	var mu sync.Mutex
	var keys []string
	publisher.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			keys = append(keys, args.String(1))
			mu.Unlock()
		}).Return(nil)
	observability.SetPublisher(publisher)
	t.Cleanup(func() { observability.SetPublisher(nil) })

	published := func(key string) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, k := range keys {
				if k == key {
					return true
				}
			}
			return false
		}
	}

	conn := f.dial(t, 1)
	require.Eventually(t, published("messenger.ws.ws_connect"), 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, published("messenger.ws.ws_disconnect"), 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectFreesPresence(t *testing.T) {
	f := newDispatcherFixture(t)

	conn := f.dial(t, 1)
	require.Eventually(t, func() bool { return f.registry.IsOnline(1) }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return !f.registry.IsOnline(1) }, 2*time.Second, 10*time.Millisecond)
}
