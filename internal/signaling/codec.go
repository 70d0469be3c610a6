package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
)

// Framing selects the wire format of one connection.
type Framing int

const (
	// FramingEvents is the {"event", "data"} envelope served on /events.
	FramingEvents Framing = iota
	// FramingFrames is the raw {"type", ...} format served on /ws and /.
	FramingFrames
)

func (f Framing) String() string {
	switch f {
	case FramingEvents:
		return "events"
	case FramingFrames:
		return "frames"
	default:
		return "unknown"
	}
}

const (
	eventConnected       = "connected"
	eventJoin            = "y-webrtc-join"
	eventJoined          = "y-webrtc-joined"
	eventSignal          = "y-webrtc-signal"
	eventAwarenessUpdate = "y-webrtc-awareness-update"
	eventLeft            = "y-webrtc-left"
	eventSubscribe       = "subscribe"
	eventUnsubscribe     = "unsubscribe"
	eventPublish         = "publish"
	eventPing            = "ping"
	eventPong            = "pong"
)

const (
	frameSubscribe       = "subscribe"
	frameUnsubscribe     = "unsubscribe"
	framePublish         = "publish"
	framePing            = "ping"
	framePong            = "pong"
	frameSignal          = "signal"
	frameAwarenessUpdate = "awareness-update"
	frameLeft            = "left"
	frameJoined          = "joined"
)

// codec converts between one framing's wire bytes and relay values. decode
// errors wrap errMalformed or errUnknownType.
type codec interface {
	decode(data []byte) (relay.Message, error)
	encode(ev relay.Event) ([]byte, error)
}

func codecFor(f Framing) codec {
	if f == FramingEvents {
		return eventCodec{}
	}
	return frameCodec{}
}

type eventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type eventCodec struct{}

func (eventCodec) decode(data []byte) (relay.Message, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	switch env.Event {
	case eventJoin:
		var room string
		if err := unmarshalData(env.Data, &room); err != nil {
			return nil, err
		}
		return relay.Join{Room: room}, nil

	case eventSignal:
		var body struct {
			To     string          `json:"to"`
			Signal json.RawMessage `json:"signal"`
		}
		if err := unmarshalData(env.Data, &body); err != nil {
			return nil, err
		}
		if body.To == "" || len(body.Signal) == 0 {
			return nil, fmt.Errorf("%w: signal requires to and signal", errMalformed)
		}
		return relay.Signal{To: relay.ConnID(body.To), Payload: body.Signal}, nil

	case eventAwarenessUpdate:
		if !isJSONObject(env.Data) {
			return nil, fmt.Errorf("%w: awareness update must be an object", errMalformed)
		}
		return relay.AwarenessUpdate{Payload: env.Data}, nil

	case eventSubscribe, eventUnsubscribe:
		if len(env.Data) == 0 {
			return nil, fmt.Errorf("%w: missing data", errMalformed)
		}
		topics, err := decodeTopicList(env.Data)
		if err != nil {
			return nil, err
		}
		if env.Event == eventSubscribe {
			return relay.Subscribe{Topics: topics}, nil
		}
		return relay.Unsubscribe{Topics: topics}, nil

	case eventPublish:
		topic, err := publishTopic(env.Data)
		if err != nil {
			return nil, err
		}
		// Stored in frame form so /ws subscribers see a normal publish frame.
		frame, err := mergeObject(env.Data, map[string]any{"type": framePublish})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		return relay.Publish{Topic: topic, Frame: frame}, nil

	case eventPing:
		return relay.Ping{}, nil

	case "":
		return nil, fmt.Errorf("%w: missing event name", errMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, env.Event)
	}
}

func (eventCodec) encode(ev relay.Event) ([]byte, error) {
	switch e := ev.(type) {
	case relay.Joined:
		return encodeEvent(eventJoined, struct {
			Room  string         `json:"room"`
			Peers []relay.ConnID `json:"peers"`
		}{e.Room, nonNilPeers(e.Peers)})
	case relay.SignalFrom:
		return encodeEvent(eventSignal, struct {
			From   relay.ConnID    `json:"from"`
			Signal json.RawMessage `json:"signal"`
		}{e.From, e.Signal})
	case relay.Awareness:
		data, err := mergeObject(e.Payload, map[string]any{"peerId": e.PeerID})
		if err != nil {
			return nil, err
		}
		return encodeEvent(eventAwarenessUpdate, data)
	case relay.Left:
		return encodeEvent(eventLeft, struct {
			Room   string       `json:"room"`
			PeerID relay.ConnID `json:"peerId"`
		}{e.Room, e.PeerID})
	case relay.Published:
		return encodeEvent(eventPublish, e.Frame)
	case relay.Pong:
		return encodeEvent(eventPong, nil)
	default:
		return nil, fmt.Errorf("signaling: cannot encode %T", ev)
	}
}

func encodeConnected(id relay.ConnID) ([]byte, error) {
	return encodeEvent(eventConnected, struct {
		PeerID relay.ConnID `json:"peerId"`
	}{id})
}

func encodeEvent(name string, data any) ([]byte, error) {
	env := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: name, Data: data}
	return json.Marshal(env)
}

type frameCodec struct{}

func (frameCodec) decode(data []byte) (relay.Message, error) {
	var head struct {
		Type   string          `json:"type"`
		Topics json.RawMessage `json:"topics"`
		Topic  json.RawMessage `json:"topic"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	switch head.Type {
	case frameSubscribe, frameUnsubscribe:
		topics, err := decodeTopicList(head.Topics)
		if err != nil {
			return nil, err
		}
		if head.Type == frameSubscribe {
			return relay.Subscribe{Topics: topics}, nil
		}
		return relay.Unsubscribe{Topics: topics}, nil
	case framePublish:
		var topic string
		if err := json.Unmarshal(head.Topic, &topic); err != nil || topic == "" {
			return nil, fmt.Errorf("%w: publish requires topic", errMalformed)
		}
		frame := make(json.RawMessage, len(data))
		copy(frame, data)
		return relay.Publish{Topic: topic, Frame: frame}, nil
	case framePing:
		return relay.Ping{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", errMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, head.Type)
	}
}

func (frameCodec) encode(ev relay.Event) ([]byte, error) {
	switch e := ev.(type) {
	case relay.Published:
		return e.Frame, nil
	case relay.Pong:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{framePong})
	case relay.SignalFrom:
		return json.Marshal(struct {
			Type   string          `json:"type"`
			From   relay.ConnID    `json:"from"`
			Signal json.RawMessage `json:"signal"`
		}{frameSignal, e.From, e.Signal})
	case relay.Awareness:
		return mergeObject(e.Payload, map[string]any{"type": frameAwarenessUpdate, "peerId": e.PeerID})
	case relay.Left:
		return json.Marshal(struct {
			Type   string       `json:"type"`
			Room   string       `json:"room"`
			PeerID relay.ConnID `json:"peerId"`
		}{frameLeft, e.Room, e.PeerID})
	case relay.Joined:
		return json.Marshal(struct {
			Type  string         `json:"type"`
			Room  string         `json:"room"`
			Peers []relay.ConnID `json:"peers"`
		}{frameJoined, e.Room, nonNilPeers(e.Peers)})
	default:
		return nil, fmt.Errorf("signaling: cannot encode %T", ev)
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

// decodeTopicList reads a JSON array of topic names. Entries that are not
// non-empty strings are skipped. A missing or null list is empty; any other
// non-array value is malformed.
func decodeTopicList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: topics must be an array: %v", errMalformed, err)
	}
	topics := make([]string, 0, len(entries))
	for _, entry := range entries {
		var topic string
		if err := json.Unmarshal(entry, &topic); err != nil || topic == "" {
			continue
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func publishTopic(data json.RawMessage) (string, error) {
	if !isJSONObject(data) {
		return "", fmt.Errorf("%w: publish data must be an object", errMalformed)
	}
	var body struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", fmt.Errorf("%w: %v", errMalformed, err)
	}
	if body.Topic == "" {
		return "", fmt.Errorf("%w: publish requires topic", errMalformed)
	}
	return body.Topic, nil
}

func isJSONObject(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// mergeObject sets fields on a copy of the JSON object obj, overwriting any
// existing keys of the same name.
func mergeObject(obj json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	if !isJSONObject(obj) {
		return nil, errNotJSONObject
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(obj, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]json.RawMessage, len(fields))
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		m[k] = raw
	}
	return json.Marshal(m)
}

func nonNilPeers(peers []relay.ConnID) []relay.ConnID {
	if peers == nil {
		return []relay.ConnID{}
	}
	return peers
}
