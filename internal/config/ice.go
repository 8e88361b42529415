package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

const (
	envICEServersJSON = "RENDEZVOUS_ICE_SERVERS_JSON"
	envStunURLs       = "RENDEZVOUS_STUN_URLS"
	envTurnURLs       = "RENDEZVOUS_TURN_URLS"
	envTurnUsername   = "RENDEZVOUS_TURN_USERNAME"
	envTurnCredential = "RENDEZVOUS_TURN_CREDENTIAL"
)

// iceServerEntry is one ICE server as written in a config file or in
// --ice-servers-json. urls may be a single string or a list.
type iceServerEntry struct {
	URLs       urlList `json:"urls" yaml:"urls"`
	Username   string  `json:"username" yaml:"username"`
	Credential string  `json:"credential" yaml:"credential"`
}

type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = urlList{one}
		return nil
	}
	return json.Unmarshal(b, (*[]string)(l))
}

func (l *urlList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = urlList{node.Value}
		return nil
	}
	return node.Decode((*[]string)(l))
}

// server trims the entry and checks it.
func (e iceServerEntry) server() (webrtc.ICEServer, error) {
	s := webrtc.ICEServer{
		URLs:     splitURLs(strings.Join(e.URLs, ",")),
		Username: strings.TrimSpace(e.Username),
	}
	if cred := strings.TrimSpace(e.Credential); cred != "" {
		s.Credential = cred
	}
	return s, checkICEServer(s)
}

// parseICEServers resolves the ICE list from --ice-servers-json, or else from
// the --stun/--turn shorthands. Both empty yields nil.
func parseICEServers(rawJSON, stun, turn, username, credential string) ([]webrtc.ICEServer, error) {
	if rawJSON = strings.TrimSpace(rawJSON); rawJSON != "" {
		servers, err := parseICEServersJSON(rawJSON)
		if err != nil {
			return nil, fmt.Errorf("ice servers json: %w", err)
		}
		return servers, nil
	}

	var entries []iceServerEntry
	if urls := splitURLs(stun); len(urls) > 0 {
		entries = append(entries, iceServerEntry{URLs: urls})
	}
	if urls := splitURLs(turn); len(urls) > 0 {
		entries = append(entries, iceServerEntry{URLs: urls, Username: username, Credential: credential})
	}
	return toICEServers(entries)
}

func parseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []iceServerEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	return toICEServers(entries)
}

func toICEServers(entries []iceServerEntry) ([]webrtc.ICEServer, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		s, err := e.server()
		if err != nil {
			return nil, fmt.Errorf("ice server %d: %w", i, err)
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func splitURLs(value string) []string {
	var urls []string
	for _, u := range strings.Split(value, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// checkICEServer accepts stun, stuns, turn and turns URLs. TURN entries need
// a username and a credential.
func checkICEServer(s webrtc.ICEServer) error {
	if len(s.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsAuth := false
	for _, u := range s.URLs {
		scheme, _, _ := strings.Cut(u, ":")
		switch scheme {
		case "stun", "stuns":
		case "turn", "turns":
			needsAuth = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}

	if needsAuth && (s.Username == "" || s.Credential == nil) {
		return errors.New("turn urls need a username and a credential")
	}
	return nil
}
