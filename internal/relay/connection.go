package relay

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
)

// ConnID identifies an admitted connection. It doubles as the peer id shown
// to other clients.
type ConnID string

type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the outbound half of a connection.
//
// Send must not block on the network: implementations queue the event and
// return an error when they cannot (for example a full send buffer). Close
// must be safe to call more than once and from any goroutine.
type Transport interface {
	Send(Event) error
	Close() error
}

type Connection struct {
	id        ConnID
	identity  auth.Identity
	transport Transport
	state     atomic.Int32

	// removed is closed once Registry.Remove has fully unwound membership.
	removed chan struct{}

	mu     sync.Mutex
	topics map[string]struct{}
}

func newConnection(id ConnID, identity auth.Identity, t Transport) *Connection {
	return &Connection{
		id:        id,
		identity:  identity,
		transport: t,
		removed:   make(chan struct{}),
		topics:    make(map[string]struct{}),
	}
}

func (c *Connection) ID() ConnID { return c.id }

func (c *Connection) Identity() auth.Identity { return c.identity }

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) IsOpen() bool { return c.State() == StateOpen }

// Topics returns a sorted snapshot of the connection's subscriptions.
func (c *Connection) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedTopics(c.topics)
}

func (c *Connection) markClosed() bool {
	return c.state.CompareAndSwap(int32(StateOpen), int32(StateClosed))
}

func sortedTopics(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
