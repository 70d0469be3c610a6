// Package relay is the protocol-agnostic core of the signaling relay.
//
// It owns connection admission (Registry), topic membership (TopicIndex) and
// message routing (Relay). Nothing here knows about WebSockets or JSON
// envelopes: transports hand in decoded Message values and receive Event
// values through the Transport interface.
//
// Lock order is Connection.mu before TopicIndex.mu. Broadcasts always work
// from a MembersOf snapshot, so no lock is held while a Transport is called.
package relay
