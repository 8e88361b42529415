package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/rendezvous/internal/util"
	"github.com/pion/webrtc/v4"
)

// Hooks receives the asynchronous callbacks of a Transport. They run on pion
// goroutines and must return promptly. Nil hooks are skipped.
type Hooks struct {
	// OnICECandidate is called for each gathered local candidate. The end of
	// gathering is not reported.
	OnICECandidate func(webrtc.ICECandidateInit)
	// OnConnectionState is called on every PeerConnection state change.
	OnConnectionState func(webrtc.PeerConnectionState)
	// OnOpen is called once when the DataChannel opens.
	OnOpen func()
	// OnMessage is called for every inbound DataChannel message.
	OnMessage func(text string)
	// OnClose is called when the DataChannel closes.
	OnClose func()
}

// Transport wraps a single PeerConnection + DataChannel pair, providing a
// high-level API for signaling exchange, text sending with backpressure,
// and message receiving.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. PeerConnection state changes are forwarded to
// Hooks.OnConnectionState.
type Transport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	sender     *sender
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTransport creates a Transport backed by a new PeerConnection from api
// and a pre-negotiated DataChannel. All hooks are registered before it
// returns, so no callback is missed.
//
// The Transport is considered alive as long as the DataChannel is open and
// ctx has not been cancelled.
func NewTransport(ctx context.Context, api *webrtc.API, config webrtc.Configuration, hooks Hooks) (*Transport, error) {
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || hooks.OnICECandidate == nil {
			return
		}
		hooks.OnICECandidate(c.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if hooks.OnConnectionState != nil {
			hooks.OnConnectionState(state)
		}
	})

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() {
			close(t.openSignal)
			if hooks.OnOpen != nil {
				hooks.OnOpen()
			}
		})
	})

	// DC close → cancel transport context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		tCancel()
		if hooks.OnClose != nil {
			hooks.OnClose()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		if hooks.OnMessage != nil {
			hooks.OnMessage(string(msg.Data))
		}
	})

	// Start the sender goroutine.
	t.sender = newSender(tCtx, dc, t.openSignal)

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts down the DataChannel and PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
// The remote description must already be set.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send enqueues a text message. Messages queued before the DataChannel opens
// are sent once it does.
func (t *Transport) Send(text string) error {
	return t.sender.send(t.ctx, text)
}
