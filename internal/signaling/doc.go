// Package signaling serves the relay over WebSockets.
//
// Two framings share one relay:
//   - GET /events carries {"event": name, "data": ...} envelopes for
//     y-webrtc style peers (join, signal, awareness).
//   - GET /ws, and GET / with an upgrade, carry raw {"type": ...} frames for
//     topic pub/sub clients.
//
// Every connection authenticates before the upgrade. Each admitted
// connection gets a read loop, a writer draining a byte-bounded outbox, and a
// keepalive watchdog.
package signaling
