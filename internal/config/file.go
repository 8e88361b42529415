package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

type peerFile struct {
	Identity     string           `json:"identity" yaml:"identity"`
	Relay        string           `json:"relay" yaml:"relay"`
	ICEServers   []iceServerEntry `json:"ice_servers" yaml:"ice_servers"`
	Debug        *bool            `json:"debug" yaml:"debug"`
	LogLevel     string           `json:"log_level" yaml:"log_level"`
	PionLogLevel string           `json:"pion_log_level" yaml:"pion_log_level"`
}

type relayFile struct {
	Listen          string `json:"listen" yaml:"listen"`
	MaxMessageBytes int64  `json:"max_message_bytes" yaml:"max_message_bytes"`
	PingInterval    string `json:"ping_interval" yaml:"ping_interval"`
	WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
	SendQueue       int    `json:"send_queue" yaml:"send_queue"`
	StatsInterval   string `json:"stats_interval" yaml:"stats_interval"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	Debug           *bool  `json:"debug" yaml:"debug"`
	LogLevel        string `json:"log_level" yaml:"log_level"`
}

// apply overlays the settings present in the file onto cfg.
func (f relayFile) apply(cfg *Relay) error {
	if f.Listen != "" {
		cfg.ListenAddr = f.Listen
	}
	if f.MaxMessageBytes != 0 {
		cfg.MaxMessageBytes = f.MaxMessageBytes
	}
	if f.SendQueue != 0 {
		cfg.SendQueue = f.SendQueue
	}
	if f.Debug != nil {
		cfg.Debug = *f.Debug
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"ping_interval", f.PingInterval, &cfg.PingInterval},
		{"write_timeout", f.WriteTimeout, &cfg.WriteTimeout},
		{"stats_interval", f.StatsInterval, &cfg.StatsInterval},
		{"shutdown_timeout", f.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func readPeerFile(path string) (peerFile, error) {
	var f peerFile
	return f, readFile(path, &f)
}

func readRelayFile(path string) (relayFile, error) {
	var f relayFile
	return f, readFile(path, &f)
}

// readFile decodes path into out. Files ending in .json or .jsonc may carry
// comments and trailing commas; everything else is parsed as YAML.
func readFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), out); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return nil
}
