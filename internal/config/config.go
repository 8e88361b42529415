// Package config holds the CLI configuration types and their loaders.
//
// Values are resolved in this order, later sources winning: built-in
// defaults, the optional config file (--config, YAML or JSON with comments),
// RENDEZVOUS_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/1ureka/rendezvous/internal/util"
)

// ErrMissingIdentity is returned by LoadPeer when no local identity was given.
var ErrMissingIdentity = errors.New("missing identity: usage: rendezvous [flags] <identity>")

const (
	envConfig   = "RENDEZVOUS_CONFIG"
	envIdentity = "RENDEZVOUS_IDENTITY"
	envRelayURL = "RENDEZVOUS_RELAY_URL"
	envDebug    = "RENDEZVOUS_DEBUG"
	envPionLog  = "RENDEZVOUS_PION_LOG_LEVEL"
	envLogLevel = "RENDEZVOUS_LOG_LEVEL"

	envListen          = "RENDEZVOUS_LISTEN"
	envMaxMessageBytes = "RENDEZVOUS_MAX_MESSAGE_BYTES"
	envPingInterval    = "RENDEZVOUS_PING_INTERVAL"
	envWriteTimeout    = "RENDEZVOUS_WRITE_TIMEOUT"
	envSendQueue       = "RENDEZVOUS_SEND_QUEUE"
	envStatsInterval   = "RENDEZVOUS_STATS_INTERVAL"
	envShutdownTimeout = "RENDEZVOUS_SHUTDOWN_TIMEOUT"
)

// DefaultRelayURL is where a peer looks for the relay when nothing else is
// configured.
const DefaultRelayURL = "ws://localhost:8080"

// DefaultICEServers is used when no ICE servers are configured.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{
			URLs:       []string{"turn:turn.anyfirewall.com:443?transport=tcp"},
			Username:   "webrtc",
			Credential: "webrtc",
		},
	}
}

// ---------------------------------------------------------------------------
// Peer
// ---------------------------------------------------------------------------

// Peer configures the interactive endpoint.
type Peer struct {
	Identity     string
	RelayURL     string
	ICEServers   []webrtc.ICEServer
	Debug        bool
	LogLevel     string
	PionLogLevel string
}

// LoadPeer resolves the endpoint configuration from args (without the
// program name) and the environment.
func LoadPeer(args []string) (Peer, error) {
	cfg := Peer{
		RelayURL:     DefaultRelayURL,
		LogLevel:     "info",
		PionLogLevel: "error",
	}

	fs := pflag.NewFlagSet("rendezvous", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML or JSON config file")
	relayURL := fs.String("relay", cfg.RelayURL, "relay WebSocket URL")
	debug := fs.Bool("debug", false, "enable debug logging")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pionLog := fs.String("pion-log-level", cfg.PionLogLevel, "pion log level (disabled, error, warn, info, debug, trace)")
	iceJSON := fs.String("ice-servers-json", "", `ICE servers as JSON, e.g. [{"urls":"stun:stun.l.google.com:19302"}]`)
	stun := fs.String("stun", "", "comma-separated STUN URLs")
	turn := fs.String("turn", "", "comma-separated TURN URLs")
	turnUser := fs.String("turn-username", "", "TURN username")
	turnCred := fs.String("turn-credential", "", "TURN credential")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	var fileICE []webrtc.ICEServer
	if path := pick(fs, "config", *configPath, envConfig); path != "" {
		f, err := readPeerFile(path)
		if err != nil {
			return cfg, err
		}
		if f.Identity != "" {
			cfg.Identity = f.Identity
		}
		if f.Relay != "" {
			cfg.RelayURL = f.Relay
		}
		if f.Debug != nil {
			cfg.Debug = *f.Debug
		}
		if f.LogLevel != "" {
			cfg.LogLevel = f.LogLevel
		}
		if f.PionLogLevel != "" {
			cfg.PionLogLevel = f.PionLogLevel
		}
		if fileICE, err = toICEServers(f.ICEServers); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	if v, ok := os.LookupEnv(envIdentity); ok && v != "" {
		cfg.Identity = v
	}
	if id := strings.TrimSpace(fs.Arg(0)); id != "" {
		cfg.Identity = id
	}
	cfg.RelayURL = pick(fs, "relay", *relayURL, envRelayURL, cfg.RelayURL)
	cfg.PionLogLevel = pick(fs, "pion-log-level", *pionLog, envPionLog, cfg.PionLogLevel)
	cfg.LogLevel = pick(fs, "log-level", *logLevel, envLogLevel, cfg.LogLevel)

	var err error
	if _, err = util.ParseLogLevel(cfg.LogLevel); err != nil {
		return cfg, err
	}
	if cfg.Debug, err = pickBool(fs, "debug", *debug, envDebug, cfg.Debug); err != nil {
		return cfg, err
	}

	cfg.ICEServers, err = parseICEServers(
		pick(fs, "ice-servers-json", *iceJSON, envICEServersJSON),
		pick(fs, "stun", *stun, envStunURLs),
		pick(fs, "turn", *turn, envTurnURLs),
		pick(fs, "turn-username", *turnUser, envTurnUsername),
		pick(fs, "turn-credential", *turnCred, envTurnCredential),
	)
	if err != nil {
		return cfg, err
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = fileICE
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultICEServers()
	}

	if cfg.Identity == "" {
		return cfg, ErrMissingIdentity
	}
	if cfg.RelayURL, err = NormalizeRelayURL(cfg.RelayURL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// NormalizeRelayURL validates a relay address and returns it as a ws:// or
// wss:// URL. A bare host:port is treated as ws://host:port.
func NormalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay URL scheme: %s", u.Scheme)
	}
	return u.String(), nil
}

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

// Relay configures the rendezvous relay server.
type Relay struct {
	ListenAddr      string
	MaxMessageBytes int64
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	SendQueue       int
	StatsInterval   time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
	LogLevel        string
}

// DefaultRelay returns the relay defaults.
func DefaultRelay() Relay {
	return Relay{
		ListenAddr:      ":8080",
		MaxMessageBytes: 64 * 1024,
		PingInterval:    20 * time.Second,
		WriteTimeout:    5 * time.Second,
		SendQueue:       64,
		StatsInterval:   10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// LoadRelay resolves the relay configuration from args (without the program
// name) and the environment.
func LoadRelay(args []string) (Relay, error) {
	cfg := DefaultRelay()

	fs := pflag.NewFlagSet("rendezvous-relay", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML or JSON config file")
	listen := fs.String("listen", cfg.ListenAddr, "listen address")
	maxBytes := fs.Int64("max-message-bytes", cfg.MaxMessageBytes, "largest accepted signaling frame")
	ping := fs.Duration("ping-interval", cfg.PingInterval, "WebSocket keepalive ping interval")
	writeTimeout := fs.Duration("write-timeout", cfg.WriteTimeout, "WebSocket write deadline")
	sendQueue := fs.Int("send-queue", cfg.SendQueue, "outbound frames buffered per connection")
	statsInterval := fs.Duration("stats-interval", cfg.StatsInterval, "stats report interval (0 disables)")
	shutdown := fs.Duration("shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	debug := fs.Bool("debug", false, "enable debug logging")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if path := pick(fs, "config", *configPath, envConfig); path != "" {
		f, err := readRelayFile(path)
		if err != nil {
			return cfg, err
		}
		if err := f.apply(&cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	var err error
	cfg.ListenAddr = pick(fs, "listen", *listen, envListen, cfg.ListenAddr)
	if cfg.MaxMessageBytes, err = pickInt64(fs, "max-message-bytes", *maxBytes, envMaxMessageBytes, cfg.MaxMessageBytes); err != nil {
		return cfg, err
	}
	if cfg.PingInterval, err = pickDuration(fs, "ping-interval", *ping, envPingInterval, cfg.PingInterval); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = pickDuration(fs, "write-timeout", *writeTimeout, envWriteTimeout, cfg.WriteTimeout); err != nil {
		return cfg, err
	}
	queue, err := pickInt64(fs, "send-queue", int64(*sendQueue), envSendQueue, int64(cfg.SendQueue))
	if err != nil {
		return cfg, err
	}
	cfg.SendQueue = int(queue)
	if cfg.StatsInterval, err = pickDuration(fs, "stats-interval", *statsInterval, envStatsInterval, cfg.StatsInterval); err != nil {
		return cfg, err
	}
	if cfg.ShutdownTimeout, err = pickDuration(fs, "shutdown-timeout", *shutdown, envShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return cfg, err
	}
	if cfg.Debug, err = pickBool(fs, "debug", *debug, envDebug, cfg.Debug); err != nil {
		return cfg, err
	}
	cfg.LogLevel = pick(fs, "log-level", *logLevel, envLogLevel, cfg.LogLevel)

	return cfg, cfg.Validate()
}

// Validate reports the first out-of-range setting.
func (c Relay) Validate() error {
	switch {
	case strings.TrimSpace(c.ListenAddr) == "":
		return errors.New("listen address must not be empty")
	case c.MaxMessageBytes <= 0:
		return errors.New("max-message-bytes must be positive")
	case c.PingInterval <= 0:
		return errors.New("ping-interval must be positive")
	case c.WriteTimeout <= 0:
		return errors.New("write-timeout must be positive")
	case c.SendQueue <= 0:
		return errors.New("send-queue must be positive")
	case c.StatsInterval < 0:
		return errors.New("stats-interval must not be negative")
	case c.ShutdownTimeout <= 0:
		return errors.New("shutdown-timeout must be positive")
	}
	_, err := util.ParseLogLevel(c.LogLevel)
	return err
}

// ---------------------------------------------------------------------------
// Precedence helpers
// ---------------------------------------------------------------------------

// pick returns the flag value if the flag was set, else the env value if
// present, else the first fallback.
func pick(fs *pflag.FlagSet, name, flagValue, env string, fallback ...string) string {
	if fs.Changed(name) {
		return flagValue
	}
	if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

func pickBool(fs *pflag.FlagSet, name string, flagValue bool, env string, fallback bool) (bool, error) {
	if fs.Changed(name) {
		return flagValue, nil
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fallback, fmt.Errorf("%s: %w", env, err)
		}
		return b, nil
	}
	return fallback, nil
}

func pickInt64(fs *pflag.FlagSet, name string, flagValue int64, env string, fallback int64) (int64, error) {
	if fs.Changed(name) {
		return flagValue, nil
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fallback, fmt.Errorf("%s: %w", env, err)
		}
		return n, nil
	}
	return fallback, nil
}

func pickDuration(fs *pflag.FlagSet, name string, flagValue time.Duration, env string, fallback time.Duration) (time.Duration, error) {
	if fs.Changed(name) {
		return flagValue, nil
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fallback, fmt.Errorf("%s: %w", env, err)
		}
		return d, nil
	}
	return fallback, nil
}
