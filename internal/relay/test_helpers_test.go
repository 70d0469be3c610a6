package relay

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

var errTransportFull = errors.New("transport full")

// recordingTransport captures events in order.
type recordingTransport struct {
	mu      sync.Mutex
	events  []Event
	closed  bool
	sendErr error
}

func (t *recordingTransport) Send(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *recordingTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *recordingTransport) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

func (t *recordingTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type harness struct {
	relay   *Relay
	metrics *metrics.Metrics
	seq     int
}

func newHarness(t *testing.T, maxConnections int) *harness {
	t.Helper()
	m := metrics.New()
	reg := NewRegistry(NewTopicIndex(), maxConnections)
	h := &harness{relay: New(reg, m, nil), metrics: m}
	reg.newID = func() ConnID {
		h.seq++
		return ConnID("c" + strconv.Itoa(h.seq))
	}
	return h
}

func (h *harness) admit(t *testing.T) (*Connection, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	c, err := h.relay.Admit(tr, auth.Identity{SubjectID: "user"})
	require.NoError(t, err)
	return c, tr
}

// run handles msg and delivers the result, like a transport read loop does.
func (h *harness) run(c *Connection, msg Message) int {
	return h.relay.Deliver(h.relay.Handle(c, msg))
}
