package relay

import (
	"errors"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// Relay applies inbound messages to the shared registry and routes the
// resulting events.
type Relay struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func New(registry *Registry, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if registry == nil {
		registry = NewRegistry(nil, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		registry: registry,
		metrics:  m,
		log:      logger,
	}
}

func (r *Relay) Registry() *Registry { return r.registry }

// Admit registers a new authenticated connection.
func (r *Relay) Admit(t Transport, identity auth.Identity) (*Connection, error) {
	c, err := r.registry.Admit(t, identity)
	if err != nil {
		if errors.Is(err, ErrTooManyConnections) {
			r.metrics.Inc(metrics.TooManyConnections)
		}
		return nil, err
	}
	r.metrics.Inc(metrics.ConnectionAdmitted)
	r.metrics.SetConnections(r.registry.Len())
	return c, nil
}

// Handle applies msg on behalf of c and returns the deliveries it produces.
// Nothing is sent; pass the result to Deliver. Messages from connections that
// are no longer Open produce nothing.
func (r *Relay) Handle(c *Connection, msg Message) []Delivery {
	if c == nil || !c.IsOpen() {
		return nil
	}

	switch m := msg.(type) {
	case Join:
		return r.join(c, m)
	case Signal:
		return r.signal(c, m)
	case AwarenessUpdate:
		return r.awareness(c, m)
	case Subscribe:
		r.subscribe(c, m.Topics)
		return nil
	case Unsubscribe:
		r.unsubscribe(c, m.Topics)
		return nil
	case Publish:
		return r.publish(c, m)
	case Ping:
		return []Delivery{{To: c.id, Event: Pong{}}}
	default:
		r.metrics.Inc(metrics.DroppedUnknownType)
		return nil
	}
}

func (r *Relay) join(c *Connection, m Join) []Delivery {
	if _, err := r.registry.Subscribe(c, m.Room); err != nil {
		r.log.Debug("signaling_join_rejected", "conn_id", c.id, "room", m.Room, "err", err)
		return nil
	}
	r.metrics.SetTopics(r.registry.topics.Len())

	// The roster is taken after the subscribe so that two concurrent joiners
	// cannot both miss each other.
	peers := make([]ConnID, 0)
	for _, id := range r.registry.topics.MembersOf(m.Room) {
		if id == c.id {
			continue
		}
		if peer, ok := r.registry.Lookup(id); ok && peer.IsOpen() {
			peers = append(peers, id)
		}
	}
	return []Delivery{{To: c.id, Event: Joined{Room: m.Room, Peers: peers}}}
}

func (r *Relay) signal(c *Connection, m Signal) []Delivery {
	target, ok := r.registry.Lookup(m.To)
	if !ok || !target.IsOpen() {
		r.metrics.Inc(metrics.SignalUndeliverable)
		return nil
	}
	return []Delivery{{To: m.To, Event: SignalFrom{From: c.id, Signal: m.Payload}}}
}

// awareness emits one event per (shared topic, peer). Peers sharing several
// topics with the sender receive one copy per topic.
func (r *Relay) awareness(c *Connection, m AwarenessUpdate) []Delivery {
	var out []Delivery
	for _, topic := range c.Topics() {
		for _, id := range r.registry.topics.MembersOf(topic) {
			if id == c.id {
				continue
			}
			out = append(out, Delivery{To: id, Event: Awareness{PeerID: c.id, Payload: m.Payload}})
		}
	}
	return out
}

func (r *Relay) subscribe(c *Connection, topics []string) {
	for _, topic := range topics {
		if _, err := r.registry.Subscribe(c, topic); errors.Is(err, ErrConnectionClosed) {
			break
		}
	}
	r.metrics.SetTopics(r.registry.topics.Len())
}

func (r *Relay) unsubscribe(c *Connection, topics []string) {
	for _, topic := range topics {
		r.registry.Unsubscribe(c, topic)
	}
	r.metrics.SetTopics(r.registry.topics.Len())
}

func (r *Relay) publish(c *Connection, m Publish) []Delivery {
	if m.Topic == "" {
		return nil
	}
	members := r.registry.topics.MembersOf(m.Topic)
	out := make([]Delivery, 0, len(members))
	for _, id := range members {
		if id == c.id {
			continue
		}
		out = append(out, Delivery{To: id, Event: Published{Topic: m.Topic, Frame: m.Frame}})
	}
	return out
}

// Leave builds one Left notice per remaining member of each topic c is
// leaving.
func (r *Relay) Leave(c *Connection, topics []string) []Delivery {
	var out []Delivery
	for _, topic := range topics {
		for _, id := range r.registry.topics.MembersOf(topic) {
			if id == c.id {
				continue
			}
			out = append(out, Delivery{To: id, Event: Left{Room: topic, PeerID: c.id}})
		}
	}
	return out
}

// Deliver routes each delivery independently and returns how many were
// handed to a transport. Targets that are gone or closed are skipped. A
// target whose transport refuses an event is closed; its own teardown runs
// on its read loop.
func (r *Relay) Deliver(ds []Delivery) int {
	sent := 0
	for _, d := range ds {
		target, ok := r.registry.Lookup(d.To)
		if !ok || !target.IsOpen() {
			r.metrics.Inc(metrics.DeliveriesSkipped)
			continue
		}
		if err := target.transport.Send(d.Event); err != nil {
			r.metrics.Inc(metrics.SendFailed)
			r.log.Warn("signaling_send_failed", "conn_id", target.id, "err", err)
			_ = target.transport.Close()
			continue
		}
		sent++
	}
	r.metrics.Add(metrics.DeliveriesSent, sent)
	return sent
}

// Disconnect tears c down: it is marked Closed, its remaining peers are told
// it left each topic, and only then is its membership purged. Safe to call
// more than once.
func (r *Relay) Disconnect(c *Connection) {
	removed := r.registry.Remove(c.id, func(c *Connection, topics []string) {
		r.Deliver(r.Leave(c, topics))
	})
	if !removed {
		return
	}
	_ = c.transport.Close()
	r.metrics.Inc(metrics.ConnectionClosed)
	r.metrics.SetConnections(r.registry.Len())
	r.metrics.SetTopics(r.registry.topics.Len())
}

// CloseAll closes every connection's transport. Each connection's read loop
// then runs the normal Disconnect path.
func (r *Relay) CloseAll() {
	for _, c := range r.registry.Connections() {
		_ = c.transport.Close()
	}
}
