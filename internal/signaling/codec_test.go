package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
)

func TestEventCodec_Decode(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want relay.Message
	}{
		{"join", `{"event":"y-webrtc-join","data":"room1"}`, relay.Join{Room: "room1"}},
		{"signal", `{"event":"y-webrtc-signal","data":{"to":"p2","signal":{"type":"offer"}}}`,
			relay.Signal{To: "p2", Payload: json.RawMessage(`{"type":"offer"}`)}},
		{"awareness", `{"event":"y-webrtc-awareness-update","data":{"cursor":3}}`,
			relay.AwarenessUpdate{Payload: json.RawMessage(`{"cursor":3}`)}},
		{"subscribe", `{"event":"subscribe","data":["a","b"]}`, relay.Subscribe{Topics: []string{"a", "b"}}},
		{"unsubscribe", `{"event":"unsubscribe","data":["a"]}`, relay.Unsubscribe{Topics: []string{"a"}}},
		{"subscribe mixed entries", `{"event":"subscribe","data":["a",1,null,{},"","b"]}`,
			relay.Subscribe{Topics: []string{"a", "b"}}},
		{"unsubscribe mixed entries", `{"event":"unsubscribe","data":["a",1,null,{},"b"]}`,
			relay.Unsubscribe{Topics: []string{"a", "b"}}},
		{"subscribe no strings", `{"event":"subscribe","data":[1,true]}`, relay.Subscribe{Topics: []string{}}},
		{"ping", `{"event":"ping"}`, relay.Ping{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := eventCodec{}.decode([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEventCodec_DecodePublishAddsFrameType(t *testing.T) {
	got, err := eventCodec{}.decode([]byte(`{"event":"publish","data":{"topic":"t1","n":1}}`))
	require.NoError(t, err)

	pub, ok := got.(relay.Publish)
	require.True(t, ok)
	assert.Equal(t, "t1", pub.Topic)
	assert.JSONEq(t, `{"type":"publish","topic":"t1","n":1}`, string(pub.Frame))
}

func TestEventCodec_DecodeRejects(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		unknown bool
	}{
		{"not json", `not json`, false},
		{"array", `[]`, false},
		{"missing event", `{"data":"x"}`, false},
		{"join without room", `{"event":"y-webrtc-join"}`, false},
		{"join non-string", `{"event":"y-webrtc-join","data":5}`, false},
		{"signal without to", `{"event":"y-webrtc-signal","data":{"signal":1}}`, false},
		{"signal without payload", `{"event":"y-webrtc-signal","data":{"to":"p"}}`, false},
		{"awareness array", `{"event":"y-webrtc-awareness-update","data":[1]}`, false},
		{"publish without topic", `{"event":"publish","data":{"x":1}}`, false},
		{"subscribe object", `{"event":"subscribe","data":{"a":1}}`, false},
		{"unknown", `{"event":"y-webrtc-teleport","data":{}}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eventCodec{}.decode([]byte(tc.in))
			require.Error(t, err)
			if tc.unknown {
				assert.ErrorIs(t, err, errUnknownType)
			} else {
				assert.ErrorIs(t, err, errMalformed)
			}
		})
	}
}

func TestEventCodec_Encode(t *testing.T) {
	cases := []struct {
		name string
		ev   relay.Event
		want string
	}{
		{"joined", relay.Joined{Room: "r", Peers: []relay.ConnID{"a"}},
			`{"event":"y-webrtc-joined","data":{"room":"r","peers":["a"]}}`},
		{"joined empty", relay.Joined{Room: "r"},
			`{"event":"y-webrtc-joined","data":{"room":"r","peers":[]}}`},
		{"signal", relay.SignalFrom{From: "a", Signal: json.RawMessage(`{"sdp":"x"}`)},
			`{"event":"y-webrtc-signal","data":{"from":"a","signal":{"sdp":"x"}}}`},
		{"awareness", relay.Awareness{PeerID: "a", Payload: json.RawMessage(`{"cursor":1,"peerId":"spoofed"}`)},
			`{"event":"y-webrtc-awareness-update","data":{"cursor":1,"peerId":"a"}}`},
		{"left", relay.Left{Room: "r", PeerID: "a"},
			`{"event":"y-webrtc-left","data":{"room":"r","peerId":"a"}}`},
		{"published", relay.Published{Topic: "t", Frame: json.RawMessage(`{"type":"publish","topic":"t"}`)},
			`{"event":"publish","data":{"type":"publish","topic":"t"}}`},
		{"pong", relay.Pong{}, `{"event":"pong"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := eventCodec{}.encode(tc.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestEncodeConnected(t *testing.T) {
	got, err := encodeConnected("abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"connected","data":{"peerId":"abc"}}`, string(got))
}

func TestFrameCodec_Decode(t *testing.T) {
	publish := `{"type":"publish","topic":"t1","data":{"deep":[1,2]}}`
	publishOddTopics := `{"type":"publish","topic":"t1","topics":[1,{}]}`

	cases := []struct {
		name string
		in   string
		want relay.Message
	}{
		{"subscribe", `{"type":"subscribe","topics":["a","b"]}`, relay.Subscribe{Topics: []string{"a", "b"}}},
		{"unsubscribe", `{"type":"unsubscribe","topics":["a"]}`, relay.Unsubscribe{Topics: []string{"a"}}},
		{"subscribe mixed entries", `{"type":"subscribe","topics":["a",1,null,{},"","b"]}`,
			relay.Subscribe{Topics: []string{"a", "b"}}},
		{"unsubscribe mixed entries", `{"type":"unsubscribe","topics":["a",1,null,{},"b"]}`,
			relay.Unsubscribe{Topics: []string{"a", "b"}}},
		{"subscribe without topics", `{"type":"subscribe"}`, relay.Subscribe{}},
		{"ping", `{"type":"ping"}`, relay.Ping{}},
		{"publish kept verbatim", publish, relay.Publish{Topic: "t1", Frame: json.RawMessage(publish)}},
		{"publish ignores topics field", publishOddTopics, relay.Publish{Topic: "t1", Frame: json.RawMessage(publishOddTopics)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := frameCodec{}.decode([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFrameCodec_DecodeRejects(t *testing.T) {
	_, err := frameCodec{}.decode([]byte(`{"type":"publish"}`))
	assert.ErrorIs(t, err, errMalformed)

	_, err = frameCodec{}.decode([]byte(`{`))
	assert.ErrorIs(t, err, errMalformed)

	_, err = frameCodec{}.decode([]byte(`{"topics":["a"]}`))
	assert.ErrorIs(t, err, errMalformed)

	_, err = frameCodec{}.decode([]byte(`{"type":"publish","topic":7}`))
	assert.ErrorIs(t, err, errMalformed)

	_, err = frameCodec{}.decode([]byte(`{"type":"subscribe","topics":"a"}`))
	assert.ErrorIs(t, err, errMalformed)

	_, err = frameCodec{}.decode([]byte(`{"type":"teleport"}`))
	assert.ErrorIs(t, err, errUnknownType)
}

func TestFrameCodec_Encode(t *testing.T) {
	cases := []struct {
		name string
		ev   relay.Event
		want string
	}{
		{"pong", relay.Pong{}, `{"type":"pong"}`},
		{"published", relay.Published{Frame: json.RawMessage(`{"type":"publish","topic":"t","x":1}`)},
			`{"type":"publish","topic":"t","x":1}`},
		{"signal", relay.SignalFrom{From: "a", Signal: json.RawMessage(`1`)},
			`{"type":"signal","from":"a","signal":1}`},
		{"awareness", relay.Awareness{PeerID: "a", Payload: json.RawMessage(`{"c":1}`)},
			`{"type":"awareness-update","c":1,"peerId":"a"}`},
		{"left", relay.Left{Room: "r", PeerID: "a"}, `{"type":"left","room":"r","peerId":"a"}`},
		{"joined", relay.Joined{Room: "r"}, `{"type":"joined","room":"r","peers":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := frameCodec{}.encode(tc.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func FuzzDecodeNeverPanics(f *testing.F) {
	f.Add([]byte(`{"event":"y-webrtc-join","data":"room"}`))
	f.Add([]byte(`{"event":"publish","data":{"topic":"t"}}`))
	f.Add([]byte(`{"type":"publish","topic":"t"}`))
	f.Add([]byte(`{"type":"subscribe","topics":null}`))
	f.Add([]byte(`{"event":"y-webrtc-awareness-update","data":{}}`))
	f.Add([]byte(`[]`))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		for _, c := range []codec{eventCodec{}, frameCodec{}} {
			msg, err := c.decode(data)
			if err != nil {
				if msg != nil {
					t.Fatalf("non-nil message with error %v", err)
				}
				continue
			}
			if msg == nil {
				t.Fatalf("nil message without error for %q", data)
			}
		}
	})
}
