package relay

import "errors"

var (
	ErrTooManyConnections = errors.New("too many connections")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrEmptyTopic         = errors.New("empty topic name")
)
