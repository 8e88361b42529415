package transport

import (
	"fmt"
	"strings"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// ChannelLabel is the label of the chat DataChannel.
const ChannelLabel = "chat"

// NewAPI builds a webrtc API whose internal logs go through a pion logger
// factory at the given level. Options can adjust the SettingEngine further,
// e.g. to attach a virtual network in tests.
func NewAPI(level string, opts ...func(*webrtc.SettingEngine)) (*webrtc.API, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}

	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = lvl

	se := webrtc.SettingEngine{LoggerFactory: factory}
	for _, opt := range opts {
		opt(&se)
	}

	return webrtc.NewAPI(webrtc.WithSettingEngine(se)), nil
}

func parseLogLevel(level string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "", "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("unknown pion log level: %q", level)
}

// newDataChannel creates a pre-negotiated, ordered DataChannel on the given
// PeerConnection. Using negotiated mode (ID 0) allows both sides to create
// the channel independently without relying on OnDataChannel.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
}
