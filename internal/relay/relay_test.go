package relay

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

func counter(h *harness, event string) float64 {
	return testutil.ToFloat64(h.metrics.Events().WithLabelValues(event))
}

func TestRelay_JoinRosterExcludesSelfAndListsEarlierMembers(t *testing.T) {
	h := newHarness(t, 0)
	x, xt := h.admit(t)
	y, yt := h.admit(t)

	h.run(x, Join{Room: "room1"})
	require.Equal(t, []Event{Joined{Room: "room1", Peers: []ConnID{}}}, xt.Events())

	h.run(y, Join{Room: "room1"})
	require.Equal(t, []Event{Joined{Room: "room1", Peers: []ConnID{x.ID()}}}, yt.Events())
	assert.Len(t, xt.Events(), 1, "existing members are not notified of a join")
}

func TestRelay_JoinRosterSkipsClosedPeers(t *testing.T) {
	h := newHarness(t, 0)
	x, _ := h.admit(t)
	y, yt := h.admit(t)

	h.run(x, Join{Room: "room1"})
	x.markClosed()

	h.run(y, Join{Room: "room1"})
	require.Equal(t, []Event{Joined{Room: "room1", Peers: []ConnID{}}}, yt.Events())
}

func TestRelay_JoinEmptyRoomIsDropped(t *testing.T) {
	h := newHarness(t, 0)
	x, xt := h.admit(t)

	assert.Nil(t, h.relay.Handle(x, Join{Room: ""}))
	assert.Empty(t, xt.Events())
	assert.Equal(t, 0, h.relay.Registry().Topics().Len())
}

func TestRelay_SignalOnlyReachesOpenTarget(t *testing.T) {
	h := newHarness(t, 0)
	x, xt := h.admit(t)
	y, yt := h.admit(t)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	h.run(x, Signal{To: y.ID(), Payload: payload})
	require.Equal(t, []Event{SignalFrom{From: x.ID(), Signal: payload}}, yt.Events())
	assert.Empty(t, xt.Events(), "no echo to sender")

	assert.Empty(t, h.relay.Handle(x, Signal{To: "nobody", Payload: payload}))
	assert.Equal(t, 1.0, counter(h, metrics.SignalUndeliverable))

	h.relay.Disconnect(y)
	assert.Empty(t, h.relay.Handle(x, Signal{To: y.ID(), Payload: payload}))
	assert.Equal(t, 2.0, counter(h, metrics.SignalUndeliverable))
}

func TestRelay_SignalDoesNotRequireSharedTopic(t *testing.T) {
	h := newHarness(t, 0)
	x, _ := h.admit(t)
	y, yt := h.admit(t)
	h.run(x, Join{Room: "a"})
	h.run(y, Join{Room: "b"})

	h.run(x, Signal{To: y.ID(), Payload: json.RawMessage(`1`)})
	assert.Len(t, yt.Events(), 2)
}

func TestRelay_AwarenessFanOutPerSharedTopic(t *testing.T) {
	h := newHarness(t, 0)
	x, xt := h.admit(t)
	y, yt := h.admit(t)
	z, zt := h.admit(t)

	for _, room := range []string{"r1", "r2"} {
		h.run(x, Join{Room: room})
		h.run(y, Join{Room: room})
	}
	h.run(z, Join{Room: "r2"})
	xt.events, yt.events, zt.events = nil, nil, nil

	payload := json.RawMessage(`{"cursor":1}`)
	h.run(x, AwarenessUpdate{Payload: payload})

	want := Awareness{PeerID: x.ID(), Payload: payload}
	assert.Equal(t, []Event{want, want}, yt.Events(), "one copy per shared topic")
	assert.Equal(t, []Event{want}, zt.Events())
	assert.Empty(t, xt.Events(), "sender excluded")
}

func TestRelay_AwarenessWithoutTopicsGoesNowhere(t *testing.T) {
	h := newHarness(t, 0)
	x, _ := h.admit(t)
	assert.Empty(t, h.relay.Handle(x, AwarenessUpdate{Payload: json.RawMessage(`{}`)}))
}

func TestRelay_PublishExcludesSender(t *testing.T) {
	h := newHarness(t, 0)
	x, xt := h.admit(t)
	y, yt := h.admit(t)
	z, zt := h.admit(t)

	h.run(x, Subscribe{Topics: []string{"t1"}})
	h.run(y, Subscribe{Topics: []string{"t1", "t2"}})
	h.run(z, Subscribe{Topics: []string{"t2"}})

	frame := json.RawMessage(`{"type":"publish","topic":"t1","data":42}`)
	sent := h.run(x, Publish{Topic: "t1", Frame: frame})

	assert.Equal(t, 1, sent)
	assert.Equal(t, []Event{Published{Topic: "t1", Frame: frame}}, yt.Events())
	assert.Empty(t, xt.Events())
	assert.Empty(t, zt.Events())
}

func TestRelay_PublishToUnknownTopicIsNoop(t *testing.T) {
	h := newHarness(t, 0)
	x, _ := h.admit(t)
	assert.Empty(t, h.relay.Handle(x, Publish{Topic: "nobody-here", Frame: json.RawMessage(`{}`)}))
	assert.False(t, h.relay.Registry().Topics().Has("nobody-here"), "publish never creates a topic")
}

func TestRelay_SubscribeUnsubscribeBatch(t *testing.T) {
	h := newHarness(t, 0)
	x, _ := h.admit(t)

	h.run(x, Subscribe{Topics: []string{"a", "", "b", "a"}})
	assert.Equal(t, []string{"a", "b"}, x.Topics())

	h.run(x, Unsubscribe{Topics: []string{"a", "missing"}})
	assert.Equal(t, []string{"b"}, x.Topics())
	assert.False(t, h.relay.Registry().Topics().Has("a"))
}

func TestRelay_PingRepliesPong(t *testing.T) {
	h := newHarness(t, 0)
	x, xt := h.admit(t)
	h.run(x, Ping{})
	assert.Equal(t, []Event{Pong{}}, xt.Events())
}

func TestRelay_DisconnectEmitsOneLeftPerTopicBeforePurge(t *testing.T) {
	h := newHarness(t, 0)
	x, _ := h.admit(t)
	y, yt := h.admit(t)
	z, zt := h.admit(t)

	h.run(x, Join{Room: "r1"})
	h.run(x, Join{Room: "r2"})
	h.run(y, Join{Room: "r1"})
	h.run(y, Join{Room: "r2"})
	h.run(z, Join{Room: "r2"})
	yt.events, zt.events = nil, nil

	h.relay.Disconnect(x)

	assert.ElementsMatch(t, []Event{
		Left{Room: "r1", PeerID: x.ID()},
		Left{Room: "r2", PeerID: x.ID()},
	}, yt.Events())
	assert.Equal(t, []Event{Left{Room: "r2", PeerID: x.ID()}}, zt.Events())

	assert.Equal(t, []ConnID{y.ID()}, h.relay.Registry().Topics().MembersOf("r1"))
	assert.Equal(t, []ConnID{y.ID(), z.ID()}, h.relay.Registry().Topics().MembersOf("r2"))
	assert.Equal(t, 1.0, counter(h, metrics.ConnectionClosed))

	h.relay.Disconnect(x)
	assert.Len(t, yt.Events(), 2, "second Disconnect emits nothing")
	assert.Equal(t, 1.0, counter(h, metrics.ConnectionClosed))
}

func TestRelay_LastMemberLeavingDeletesTopic(t *testing.T) {
	h := newHarness(t, 0)
	x, _ := h.admit(t)
	h.run(x, Join{Room: "solo"})
	h.relay.Disconnect(x)
	assert.False(t, h.relay.Registry().Topics().Has("solo"))
}

func TestRelay_HandleOnClosedConnectionIsNoop(t *testing.T) {
	h := newHarness(t, 0)
	x, _ := h.admit(t)
	h.relay.Disconnect(x)
	assert.Nil(t, h.relay.Handle(x, Join{Room: "r"}))
	assert.False(t, h.relay.Registry().Topics().Has("r"))
}

func TestRelay_DeliverIsolatesFailingRecipient(t *testing.T) {
	h := newHarness(t, 0)
	x, _ := h.admit(t)
	y, yt := h.admit(t)
	z, zt := h.admit(t)
	for _, c := range []*Connection{x, y, z} {
		h.run(c, Subscribe{Topics: []string{"t"}})
	}

	yt.sendErr = errTransportFull
	sent := h.run(x, Publish{Topic: "t", Frame: json.RawMessage(`{}`)})

	assert.Equal(t, 1, sent)
	assert.True(t, yt.Closed(), "failing recipient is closed")
	assert.False(t, zt.Closed())
	assert.Len(t, zt.Events(), 1)
	assert.Equal(t, 1.0, counter(h, metrics.SendFailed))
}

func TestRelay_DeliverSkipsUnknownTargets(t *testing.T) {
	h := newHarness(t, 0)
	sent := h.relay.Deliver([]Delivery{{To: "ghost", Event: Pong{}}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1.0, counter(h, metrics.DeliveriesSkipped))
}

func TestRelay_AdmitQuotaCountsRejections(t *testing.T) {
	h := newHarness(t, 1)
	h.admit(t)
	_, err := h.relay.Admit(&recordingTransport{}, auth.Identity{SubjectID: "u"})
	require.ErrorIs(t, err, ErrTooManyConnections)
	assert.Equal(t, 1.0, counter(h, metrics.TooManyConnections))
}

func TestRelay_CloseAllClosesTransports(t *testing.T) {
	h := newHarness(t, 0)
	_, at := h.admit(t)
	_, bt := h.admit(t)
	h.relay.CloseAll()
	assert.True(t, at.Closed())
	assert.True(t, bt.Closed())
}

// Two peers X and Y in room1, with X then disconnecting.
func TestRelay_TwoPeerScenario(t *testing.T) {
	h := newHarness(t, 0)
	x, xt := h.admit(t)
	y, yt := h.admit(t)

	h.run(x, Join{Room: "room1"})
	h.run(y, Join{Room: "room1"})
	h.run(x, Signal{To: y.ID(), Payload: json.RawMessage(`"offer"`)})
	h.run(y, Signal{To: x.ID(), Payload: json.RawMessage(`"answer"`)})
	h.relay.Disconnect(x)

	assert.Equal(t, []Event{
		Joined{Room: "room1", Peers: []ConnID{}},
		SignalFrom{From: y.ID(), Signal: json.RawMessage(`"answer"`)},
	}, xt.Events())
	assert.Equal(t, []Event{
		Joined{Room: "room1", Peers: []ConnID{x.ID()}},
		SignalFrom{From: x.ID(), Signal: json.RawMessage(`"offer"`)},
		Left{Room: "room1", PeerID: x.ID()},
	}, yt.Events())
	assert.Equal(t, []ConnID{y.ID()}, h.relay.Registry().Topics().MembersOf("room1"))
}
