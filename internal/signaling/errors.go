package signaling

import "errors"

var (
	// ErrSendQueueFull is returned by a connection's Send when its outbox
	// cannot take another frame.
	ErrSendQueueFull = errors.New("signaling: send queue full")

	errOutboxClosed  = errors.New("signaling: connection closed")
	errShuttingDown  = errors.New("signaling: server shutting down")
	errMalformed     = errors.New("malformed frame")
	errUnknownType   = errors.New("unknown frame type")
	errNotJSONObject = errors.New("payload is not a JSON object")
)
