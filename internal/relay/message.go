package relay

import "encoding/json"

// Message is an inbound request from a connection. The set of variants is
// closed; Relay.Handle switches over all of them.
type Message interface {
	isMessage()
}

type (
	// Subscribe joins each listed topic.
	Subscribe struct{ Topics []string }
	// Unsubscribe leaves each listed topic.
	Unsubscribe struct{ Topics []string }
	// Publish forwards Frame unchanged to every other member of Topic.
	Publish struct {
		Topic string
		Frame json.RawMessage
	}
	// Ping asks for a Pong.
	Ping struct{}
	// Join subscribes to Room and asks for the current roster.
	Join struct{ Room string }
	// Signal forwards an opaque negotiation payload to one peer.
	Signal struct {
		To      ConnID
		Payload json.RawMessage
	}
	// AwarenessUpdate fans an opaque presence payload out to every peer that
	// shares a topic with the sender.
	AwarenessUpdate struct{ Payload json.RawMessage }
)

func (Subscribe) isMessage()       {}
func (Unsubscribe) isMessage()     {}
func (Publish) isMessage()         {}
func (Ping) isMessage()            {}
func (Join) isMessage()            {}
func (Signal) isMessage()          {}
func (AwarenessUpdate) isMessage() {}

// Event is an outbound notification addressed to one connection.
type Event interface {
	isEvent()
}

type (
	Joined struct {
		Room  string
		Peers []ConnID
	}
	SignalFrom struct {
		From   ConnID
		Signal json.RawMessage
	}
	Awareness struct {
		PeerID  ConnID
		Payload json.RawMessage
	}
	Left struct {
		Room   string
		PeerID ConnID
	}
	Published struct {
		Topic string
		Frame json.RawMessage
	}
	Pong struct{}
)

func (Joined) isEvent()     {}
func (SignalFrom) isEvent() {}
func (Awareness) isEvent()  {}
func (Left) isEvent()       {}
func (Published) isEvent()  {}
func (Pong) isEvent()       {}

// Delivery is one event bound for one connection.
type Delivery struct {
	To    ConnID
	Event Event
}
