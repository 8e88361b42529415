package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadPeerRequiresIdentity(t *testing.T) {
	if _, err := LoadPeer(nil); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("err = %v, want ErrMissingIdentity", err)
	}
}

func TestLoadPeerDefaults(t *testing.T) {
	cfg, err := LoadPeer([]string{"alice"})
	if err != nil {
		t.Fatalf("LoadPeer: %v", err)
	}
	if cfg.Identity != "alice" {
		t.Errorf("Identity = %q", cfg.Identity)
	}
	if cfg.RelayURL != DefaultRelayURL {
		t.Errorf("RelayURL = %q, want %q", cfg.RelayURL, DefaultRelayURL)
	}
	if len(cfg.ICEServers) != len(DefaultICEServers()) {
		t.Errorf("ICEServers = %v, want defaults", cfg.ICEServers)
	}
	if cfg.PionLogLevel != "error" {
		t.Errorf("PionLogLevel = %q", cfg.PionLogLevel)
	}
}

func TestLoadPeerPrecedence(t *testing.T) {
	path := writeFile(t, "peer.yaml", `
identity: from-file
relay: ws://file:1
debug: true
ice_servers:
  - urls: stun:file.example:3478
`)

	t.Setenv(envRelayURL, "ws://env:2")

	cfg, err := LoadPeer([]string{"--config", path})
	if err != nil {
		t.Fatalf("LoadPeer: %v", err)
	}
	if cfg.Identity != "from-file" {
		t.Errorf("Identity = %q, want from-file", cfg.Identity)
	}
	if cfg.RelayURL != "ws://env:2" {
		t.Errorf("RelayURL = %q, env should beat file", cfg.RelayURL)
	}
	if !cfg.Debug {
		t.Error("Debug from file was lost")
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:file.example:3478" {
		t.Errorf("ICEServers = %v, want file entry", cfg.ICEServers)
	}

	cfg, err = LoadPeer([]string{"--config", path, "--relay", "wss://flag:3", "bob"})
	if err != nil {
		t.Fatalf("LoadPeer: %v", err)
	}
	if cfg.RelayURL != "wss://flag:3" {
		t.Errorf("RelayURL = %q, flag should beat env", cfg.RelayURL)
	}
	if cfg.Identity != "bob" {
		t.Errorf("Identity = %q, positional should beat file", cfg.Identity)
	}
}

func TestLoadPeerJSONCFile(t *testing.T) {
	path := writeFile(t, "peer.jsonc", `{
  // local relay
  "relay": "localhost:9000",
  "ice_servers": [
    {"urls": ["turn:turn.example:3478"], "username": "u", "credential": "p"},
  ],
}`)

	cfg, err := LoadPeer([]string{"--config", path, "carol"})
	if err != nil {
		t.Fatalf("LoadPeer: %v", err)
	}
	if cfg.RelayURL != "ws://localhost:9000" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Username != "u" {
		t.Errorf("ICEServers = %v", cfg.ICEServers)
	}
}

func TestLoadPeerICEFlags(t *testing.T) {
	cfg, err := LoadPeer([]string{"--stun", "stun:a:1, stun:b:2", "dave"})
	if err != nil {
		t.Fatalf("LoadPeer: %v", err)
	}
	if len(cfg.ICEServers) != 1 || len(cfg.ICEServers[0].URLs) != 2 {
		t.Fatalf("ICEServers = %v", cfg.ICEServers)
	}

	if _, err := LoadPeer([]string{"--turn", "turn:a:1", "dave"}); err == nil {
		t.Fatal("expected error for TURN without credentials")
	}
}

func TestParseICEServersJSON(t *testing.T) {
	servers, err := parseICEServersJSON(`[{"urls":"stun:one:1"},{"urls":["turns:two:2"],"username":"u","credential":"c"}]`)
	if err != nil {
		t.Fatalf("parseICEServersJSON: %v", err)
	}
	if len(servers) != 2 || servers[0].URLs[0] != "stun:one:1" || servers[1].Credential != "c" {
		t.Fatalf("servers = %+v", servers)
	}

	bad := []string{
		`[{"urls":"http://example.com"}]`,
		`[{"urls":"turn:x:1"}]`,
		`[{"urls":[]}]`,
		`{"urls":"stun:x:1"}`,
	}
	for _, raw := range bad {
		if _, err := parseICEServersJSON(raw); err == nil {
			t.Errorf("parseICEServersJSON(%s) should fail", raw)
		}
	}
}

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "ws://localhost:8080", want: "ws://localhost:8080"},
		{in: "localhost:8080", want: "ws://localhost:8080"},
		{in: "https://relay.example/ws", want: "wss://relay.example/ws"},
		{in: "http://relay.example", want: "ws://relay.example"},
		{in: "ftp://relay.example", wantErr: true},
		{in: "ws://", wantErr: true},
	}

	for _, tt := range tests {
		got, err := NormalizeRelayURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeRelayURL(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeRelayURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestLoadRelay(t *testing.T) {
	cfg, err := LoadRelay(nil)
	if err != nil {
		t.Fatalf("LoadRelay: %v", err)
	}
	if cfg != DefaultRelay() {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}

	path := writeFile(t, "relay.yml", "listen: 127.0.0.1:9999\nping_interval: 3s\nsend_queue: 8\n")
	t.Setenv(envSendQueue, "16")

	cfg, err = LoadRelay([]string{"--config", path, "--write-timeout", "2s"})
	if err != nil {
		t.Fatalf("LoadRelay: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" || cfg.PingInterval != 3*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.SendQueue != 16 {
		t.Errorf("SendQueue = %d, env should beat file", cfg.SendQueue)
	}
	if cfg.WriteTimeout != 2*time.Second {
		t.Errorf("WriteTimeout = %v", cfg.WriteTimeout)
	}

	if _, err := LoadRelay([]string{"--send-queue", "0"}); err == nil {
		t.Error("expected validation error for zero send queue")
	}

	badPath := writeFile(t, "relay.json", `{"ping_interval": "soon"}`)
	if _, err := LoadRelay([]string{"--config", badPath}); err == nil {
		t.Error("expected error for unparsable duration")
	}
}

func TestLogLevel(t *testing.T) {
	cfg, err := LoadPeer([]string{"alice"})
	if err != nil {
		t.Fatalf("LoadPeer: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("peer LogLevel = %q, want info", cfg.LogLevel)
	}

	t.Setenv(envLogLevel, "warn")
	if cfg, err = LoadPeer([]string{"alice"}); err != nil || cfg.LogLevel != "warn" {
		t.Errorf("peer LogLevel = %q, %v; want warn from env", cfg.LogLevel, err)
	}
	if cfg, err = LoadPeer([]string{"--log-level", "error", "alice"}); err != nil || cfg.LogLevel != "error" {
		t.Errorf("peer LogLevel = %q, %v; flag should beat env", cfg.LogLevel, err)
	}
	if _, err := LoadPeer([]string{"--log-level", "loud", "alice"}); err == nil {
		t.Error("expected error for unknown peer log level")
	}

	path := writeFile(t, "relay.yaml", "log_level: debug\n")
	relay, err := LoadRelay([]string{"--config", path})
	if err != nil {
		t.Fatalf("LoadRelay: %v", err)
	}
	if relay.LogLevel != "warn" {
		t.Errorf("relay LogLevel = %q, env should beat file", relay.LogLevel)
	}

	t.Setenv(envLogLevel, "")
	if relay, err = LoadRelay([]string{"--config", path}); err != nil || relay.LogLevel != "debug" {
		t.Errorf("relay LogLevel = %q, %v; want debug from file", relay.LogLevel, err)
	}
	if _, err := LoadRelay([]string{"--log-level", "loud"}); err == nil {
		t.Error("expected validation error for unknown relay log level")
	}
}
