package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

type iceURLKind int

const (
	iceURLSTUN iceURLKind = iota + 1
	iceURLTURN
)

// classifyICEURL reports whether raw is a STUN or TURN URL. Only the scheme
// is inspected; host and query are left for the browser to interpret.
func classifyICEURL(raw string) (iceURLKind, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || rest == "" {
		return 0, fmt.Errorf("malformed ice url %q", raw)
	}
	switch strings.ToLower(scheme) {
	case "stun", "stuns":
		return iceURLSTUN, nil
	case "turn", "turns":
		return iceURLTURN, nil
	default:
		return 0, fmt.Errorf("unsupported url scheme: %q", raw)
	}
}

// IsTURNServer reports whether any of the server's URLs uses a turn: or turns:
// scheme.
func IsTURNServer(server webrtc.ICEServer) bool {
	for _, u := range server.URLs {
		if kind, err := classifyICEURL(u); err == nil && kind == iceURLTURN {
			return true
		}
	}
	return false
}

// iceSettings is the raw ICE configuration. JSON, when set, is the browser
// RTCIceServer[] shape and replaces the STUN/TURN list knobs.
type iceSettings struct {
	JSON string

	STUNURLs       []string
	TURNURLs       []string
	TURNUsername   string
	TURNCredential string

	// TURNREST means credentials are minted per request by /webrtc/ice, so
	// configured TURN entries may omit them.
	TURNREST bool
}

func (s iceSettings) resolve() ([]webrtc.ICEServer, error) {
	if strings.TrimSpace(s.JSON) != "" {
		servers, err := decodeICEServersJSON(s.JSON)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		if err := s.validate(servers); err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	servers := []webrtc.ICEServer{}
	if len(s.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: s.STUNURLs})
	}
	if len(s.TURNURLs) > 0 {
		turn := webrtc.ICEServer{
			URLs:     s.TURNURLs,
			Username: strings.TrimSpace(s.TURNUsername),
		}
		if cred := strings.TrimSpace(s.TURNCredential); cred != "" {
			turn.Credential = cred
		}
		servers = append(servers, turn)
	}
	if err := s.validate(servers); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", envStunURLs, envTurnURLs, err)
	}
	return servers, nil
}

func (s iceSettings) validate(servers []webrtc.ICEServer) error {
	for i, server := range servers {
		if len(server.URLs) == 0 {
			return fmt.Errorf("iceServers[%d]: missing urls", i)
		}
		turn := false
		for _, u := range server.URLs {
			kind, err := classifyICEURL(u)
			if err != nil {
				return fmt.Errorf("iceServers[%d]: %w", i, err)
			}
			turn = turn || kind == iceURLTURN
		}
		if !turn || s.TURNREST {
			continue
		}
		cred, _ := server.Credential.(string)
		if server.Username == "" || cred == "" {
			return fmt.Errorf("iceServers[%d]: turn urls require username and credential (or TURN REST)", i)
		}
	}
	return nil
}

// decodeICEServersJSON accepts `urls` as either a string or a list, like
// RTCIceServer.
func decodeICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		var urls []string
		var single string
		if err := json.Unmarshal(e.URLs, &single); err == nil {
			urls = []string{single}
		} else if err := json.Unmarshal(e.URLs, &urls); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: urls must be a string or list of strings", i)
		}

		server := webrtc.ICEServer{
			URLs:     splitList(strings.Join(urls, ",")),
			Username: strings.TrimSpace(e.Username),
		}
		if cred := strings.TrimSpace(e.Credential); cred != "" {
			server.Credential = cred
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
