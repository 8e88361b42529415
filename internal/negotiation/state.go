// Package negotiation drives one endpoint's peer connection from idle to an
// open data channel, using the relay only as an envelope courier.
//
// An Engine owns at most one session at a time. All session state is
// mutated by the goroutine running Engine.Run; relay frames, pion callbacks
// and user commands are turned into events on an unbounded queue and handled
// one at a time by a pure transition function.
package negotiation

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rendezvous/internal/signaling"
	"github.com/1ureka/rendezvous/internal/transport"
)

// State is the negotiation state of an endpoint.
type State int32

const (
	// Idle means no session. Entered at startup and after every teardown.
	Idle State = iota
	// Offering means an offer was sent and an answer is awaited.
	Offering
	// Answering means an offer was accepted and an answer is being produced.
	Answering
	// Connecting means both descriptions are set and ICE is running.
	Connecting
	// Open means the data channel is ready.
	Open
	// Closed is reported when a session ends. The engine moves on to Idle
	// within the same step, so State never returns it for long.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case Answering:
		return "answering"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// active reports whether a session exists in this state.
func (s State) active() bool {
	return s >= Offering && s <= Open
}

// Role is the local side of a session.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

var (
	// ErrNotOpen is returned by Send when no data channel is open.
	ErrNotOpen = errors.New("not connected. Use: connect <identity>")
	// ErrRelayLost is returned by Connect after the relay connection is gone.
	ErrRelayLost = errors.New("relay connection lost; restart to connect to new peers")
	// ErrMissingTarget is returned by Connect without a target identity.
	ErrMissingTarget = errors.New("please provide an identity")
	// ErrSelfTarget is returned by Connect when the target is the local identity.
	ErrSelfTarget = errors.New("cannot connect to yourself")
	// ErrStopped is returned once the engine loop has exited.
	ErrStopped = errors.New("engine stopped")
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Peer is one session's peer connection and data channel.
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	Send(text string) error
	Close() error
}

// PeerFactory creates the Peer for a new session. The hooks must be wired
// before the factory returns.
type PeerFactory func(hooks transport.Hooks) (Peer, error)

// TransportFactory returns a PeerFactory backed by transport.Transport.
func TransportFactory(ctx context.Context, api *webrtc.API, config webrtc.Configuration) PeerFactory {
	return func(hooks transport.Hooks) (Peer, error) {
		t, err := transport.NewTransport(ctx, api, config, hooks)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Signal carries envelopes to the relay.
type Signal interface {
	Send(signaling.Envelope) error
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

// NotificationKind tells the observer what happened.
type NotificationKind int

const (
	NotifyState NotificationKind = iota
	NotifyMessage
	NotifyError
	NotifyRegistered
	NotifyRelayLost
)

// Notification is delivered to the Observer. Fields not relevant to Kind are
// empty.
type Notification struct {
	Kind    NotificationKind
	State   State  // NotifyState
	Peer    string // NotifyState: the session peer; NotifyRegistered: own identity
	From    string // NotifyMessage
	Text    string // NotifyMessage
	Message string // NotifyError, NotifyRelayLost
}

// Observer receives notifications on a dedicated goroutine, in order. A slow
// observer never stalls the engine.
type Observer interface {
	Notify(Notification)
}
