package ws

import (
	"encoding/json"

	"messenger-service/internal/models"
	"messenger-service/internal/presence"
)

// CallRelay forwards WebRTC signaling between peers. It keeps no call
// state of its own: the call lives in the peers' signaling exchange,
// and targets are resolved against live presence at relay time.
type CallRelay struct {
	registry presence.Registry
}

func NewCallRelay(registry presence.Registry) *CallRelay {
	return &CallRelay{registry: registry}
}

// Initiate resolves the callee's sessions and builds the incoming_call
// event. An offline callee yields no targets; the offer is dropped, not
// queued.
func (r *CallRelay) Initiate(callerSessionID string, caller models.CallerInfo, targetUserID int, signal json.RawMessage, callType string) ([]string, models.Event) {
	event := models.Event{
		Type: models.EventIncomingCall,
		Payload: models.IncomingCall{
			Signal:   signal,
			From:     callerSessionID,
			Caller:   caller,
			CallType: callType,
		},
	}
	return r.registry.SessionsFor(targetUserID), event
}

// Answer builds the call_accepted event for the caller's session. The
// answering session id travels as From so later frames can route back.
func (r *CallRelay) Answer(fromUserID int, signal json.RawMessage) models.Event {
	return models.Event{
		Type:    models.EventCallAccepted,
		Payload: models.CallAnswer{Signal: signal, From: fromUserID},
	}
}

// Reject builds the call_rejected event for the caller's session.
func (r *CallRelay) Reject(fromUserID int) models.Event {
	return models.Event{
		Type:    models.EventCallRejected,
		Payload: models.CallPeer{From: fromUserID},
	}
}

// End builds the call_ended event for the other peer's session.
func (r *CallRelay) End(fromUserID int) models.Event {
	return models.Event{
		Type:    models.EventCallEnded,
		Payload: models.CallPeer{From: fromUserID},
	}
}

// Candidate builds an ice_candidate event for the other peer's session.
func (r *CallRelay) Candidate(fromUserID int, candidate json.RawMessage) models.Event {
	return models.Event{
		Type:    models.EventICECandidate,
		Payload: models.ICECandidate{Candidate: candidate, From: fromUserID},
	}
}
