package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
	"messenger-service/internal/presence"
)

func TestInitiateTargetsEveryCalleeSession(t *testing.T) {
	registry := presence.NewInMemoryRegistry()
	registry.Register("phone", 2)
	registry.Register("laptop", 2)
	relay := NewCallRelay(registry)

	signal := json.RawMessage(`{"sdp":"offer"}`)
	sessions, event := relay.Initiate("caller-session", models.CallerInfo{ID: 1, Username: "alice"}, 2, signal, "video")

	assert.ElementsMatch(t, []string{"phone", "laptop"}, sessions)
	require.Equal(t, models.EventIncomingCall, event.Type)

	payload := event.Payload.(models.IncomingCall)
	assert.Equal(t, "caller-session", payload.From)
	assert.Equal(t, 1, payload.Caller.ID)
	assert.Equal(t, "video", payload.CallType)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(payload.Signal))
}

func TestInitiateOfflineCallee(t *testing.T) {
	relay := NewCallRelay(presence.NewInMemoryRegistry())

	sessions, _ := relay.Initiate("caller-session", models.CallerInfo{ID: 1}, 99, nil, "audio")
	assert.Empty(t, sessions)
}

func TestAnswerRejectEndCandidate(t *testing.T) {
	relay := NewCallRelay(presence.NewInMemoryRegistry())

	answer := relay.Answer(2, json.RawMessage(`{"sdp":"answer"}`))
	assert.Equal(t, models.EventCallAccepted, answer.Type)
	assert.Equal(t, 2, answer.Payload.(models.CallAnswer).From)

	reject := relay.Reject(2)
	assert.Equal(t, models.EventCallRejected, reject.Type)
	assert.Equal(t, 2, reject.Payload.(models.CallPeer).From)

	end := relay.End(1)
	assert.Equal(t, models.EventCallEnded, end.Type)
	assert.Equal(t, 1, end.Payload.(models.CallPeer).From)

	candidate := relay.Candidate(1, json.RawMessage(`{"candidate":"c"}`))
	assert.Equal(t, models.EventICECandidate, candidate.Type)
	assert.Equal(t, 1, candidate.Payload.(models.ICECandidate).From)
}
