package relay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
)

// Registry owns every admitted connection and keeps the two sides of topic
// membership (Connection.topics and TopicIndex) in agreement.
type Registry struct {
	topics         *TopicIndex
	maxConnections int
	newID          func() ConnID

	mu    sync.RWMutex
	conns map[ConnID]*Connection
}

// NewRegistry returns a registry backed by topics. maxConnections <= 0 means
// unlimited.
func NewRegistry(topics *TopicIndex, maxConnections int) *Registry {
	if topics == nil {
		topics = NewTopicIndex()
	}
	return &Registry{
		topics:         topics,
		maxConnections: maxConnections,
		newID:          func() ConnID { return ConnID(uuid.NewString()) },
		conns:          make(map[ConnID]*Connection),
	}
}

func (r *Registry) Topics() *TopicIndex { return r.topics }

// Admit creates an Open connection with no subscriptions.
func (r *Registry) Admit(t Transport, identity auth.Identity) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConnections > 0 && len(r.conns) >= r.maxConnections {
		return nil, ErrTooManyConnections
	}
	id := r.newID()
	for _, taken := r.conns[id]; taken; _, taken = r.conns[id] {
		id = r.newID()
	}
	c := newConnection(id, identity, t)
	r.conns[id] = c
	return c, nil
}

func (r *Registry) Lookup(id ConnID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Connections returns a snapshot of every admitted connection.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Subscribe adds topic to c's subscriptions. It reports whether the
// membership is new; subscribing twice is a no-op.
func (r *Registry) Subscribe(c *Connection, topic string) (bool, error) {
	if topic == "" {
		return false, ErrEmptyTopic
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsOpen() {
		return false, ErrConnectionClosed
	}
	if _, ok := c.topics[topic]; ok {
		return false, nil
	}
	c.topics[topic] = struct{}{}
	r.topics.Subscribe(topic, c.id)
	return true, nil
}

// Unsubscribe removes topic from c's subscriptions. Unknown topics are a
// no-op.
func (r *Registry) Unsubscribe(c *Connection, topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.topics[topic]; !ok {
		return false
	}
	delete(c.topics, topic)
	r.topics.Unsubscribe(topic, c.id)
	return true
}

// Remove closes the connection and purges its membership.
//
// beforePurge runs after the connection is marked Closed but while it is
// still listed as a member of its topics, so departure notices can be built
// from the remaining members. Remove is idempotent: later calls wait for the
// first to finish and report false.
func (r *Registry) Remove(id ConnID, beforePurge func(c *Connection, topics []string)) bool {
	c, ok := r.Lookup(id)
	if !ok {
		return false
	}
	if !c.markClosed() {
		<-c.removed
		return false
	}

	// Subscribe checks IsOpen under c.mu, so after this snapshot the set can
	// only shrink.
	topics := c.Topics()
	if beforePurge != nil {
		beforePurge(c, topics)
	}

	c.mu.Lock()
	for topic := range c.topics {
		r.topics.Unsubscribe(topic, c.id)
	}
	c.topics = make(map[string]struct{})
	c.mu.Unlock()

	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()

	close(c.removed)
	return true
}
