// internal/models/events.go
package models

// EventType names a websocket frame.
type EventType string

// Outbound events, server to client.
const (
	EventHand             EventType = "hand"
	EventTogglePlayers    EventType = "toggle_players"
	EventExternalMove     EventType = "external_move"
	EventSetPlayerRole    EventType = "set_player_role"
	EventGameOver         EventType = "gameover"
	EventSetReplay        EventType = "set_replay"
	EventSetMultiplayer   EventType = "set_multiplayer"
	EventAbortMultiplayer EventType = "abort_multiplayer"
	EventReplay           EventType = "replay"
)

// Inbound events, client to server.
const (
	EventLogin            EventType = "login"
	EventMove             EventType = "move"
	EventReplayReady      EventType = "replay_ready"
	EventMultiplayerReady EventType = "multiplayer_ready"
	EventExpired          EventType = "expired"
)

// Event is the JSON frame exchanged over the websocket.
type Event struct {
	Type    EventType              `json:"event"`
	Payload map[string]interface{} `json:"data,omitempty"`
}

// NewEvent builds an Event, treating a nil payload as empty.
func NewEvent(t EventType, payload map[string]interface{}) Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return Event{Type: t, Payload: payload}
}

// EnvelopeKind says what a cross-session message asks the receiver to do.
type EnvelopeKind string

const (
	// KindClient delivers Event to the client attached to the session.
	KindClient EnvelopeKind = "client"
	// KindPartnerMove tells a session its partner played a non-winning move.
	KindPartnerMove EnvelopeKind = "partner_move"
	// KindPartnerDeal tells a session its partner won the hand.
	KindPartnerDeal EnvelopeKind = "partner_deal"
)

// Envelope addresses a message to one session, possibly on another node.
type Envelope struct {
	SessionID int64        `json:"sid"`
	Kind      EnvelopeKind `json:"kind"`
	From      int64        `json:"from,omitempty"`
	Event     *Event       `json:"event,omitempty"`
	Move      *MovePayload `json:"move,omitempty"`
}
