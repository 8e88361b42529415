package negotiation

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rendezvous/internal/signaling"
	"github.com/1ureka/rendezvous/internal/util"
)

type eventKind int

const (
	// Commands.
	eventConnect eventKind = iota
	eventDisconnect
	eventSend
	eventShutdown

	// Relay.
	eventEnvelope
	eventRelayLost

	// Session callbacks, tagged with the session generation.
	eventLocalCandidate
	eventConnectionState
	eventChannelOpen
	eventChannelMessage
	eventChannelClose
	eventDescriptionsSet
	eventFailed

	eventBarrier
)

type event struct {
	kind      eventKind
	gen       uint64
	target    string
	text      string
	env       signaling.Envelope
	candidate webrtc.ICECandidateInit
	pcState   webrtc.PeerConnectionState
	err       error
	done      chan struct{}
}

type effectKind int

const (
	effectTeardown effectKind = iota
	effectStartOffer
	effectAcceptOffer
	effectApplyAnswer
	effectQueueCandidate
	effectAddCandidate
	effectFlushCandidates
	effectSendCandidate
	effectSendText
	effectNotify
	effectMarkRelayLost
	effectMarkUnreachable
)

type effect struct {
	kind      effectKind
	peer      string
	sdp       webrtc.SessionDescription
	candidate webrtc.ICECandidateInit
	text      string
	note      Notification
}

// snapshot is the part of the engine state the transition function reads.
type snapshot struct {
	self      string
	state     State
	peer      string
	gen       uint64 // generation of the current session, 0 if none
	remoteSet bool
	relayLost bool

	// unreachable is the peer of the last session abandoned because the
	// relay reported it not available.
	unreachable string
}

func notifyError(format string, args ...interface{}) effect {
	return effect{kind: effectNotify, note: Notification{Kind: NotifyError, Message: fmt.Sprintf(format, args...)}}
}

// transition maps the current state and one event to the next state and the
// effects the engine must run, in order. Events that do not apply to the
// current state leave it unchanged.
func transition(s snapshot, ev event) (State, []effect) {
	switch ev.kind {
	case eventConnect:
		return onConnect(s, ev.target)

	case eventDisconnect:
		if !s.state.active() {
			return s.state, []effect{notifyError("not connected")}
		}
		return Closed, []effect{{kind: effectTeardown}}

	case eventSend:
		if s.state != Open {
			return s.state, []effect{notifyError("%v", ErrNotOpen)}
		}
		return Open, []effect{{kind: effectSendText, text: ev.text}}

	case eventShutdown:
		if !s.state.active() {
			return s.state, nil
		}
		return Closed, []effect{{kind: effectTeardown}}

	case eventEnvelope:
		return onEnvelope(s, ev.env)

	case eventRelayLost:
		msg := "relay connection closed"
		if ev.err != nil {
			msg = ev.err.Error()
		}
		return s.state, []effect{
			{kind: effectMarkRelayLost},
			{kind: effectNotify, note: Notification{Kind: NotifyRelayLost, Message: msg}},
		}

	case eventBarrier:
		return s.state, nil
	}

	// Session callbacks from a torn-down session are stale.
	if ev.gen == 0 || ev.gen != s.gen || !s.state.active() {
		return s.state, nil
	}
	return onSession(s, ev)
}

func onConnect(s snapshot, target string) (State, []effect) {
	switch {
	case s.relayLost:
		return s.state, []effect{notifyError("%v", ErrRelayLost)}
	case target == "":
		return s.state, []effect{notifyError("%v", ErrMissingTarget)}
	case target == s.self:
		return s.state, []effect{notifyError("%v", ErrSelfTarget)}
	}

	var effects []effect
	if s.state.active() {
		effects = append(effects, effect{kind: effectTeardown})
	}
	effects = append(effects, effect{kind: effectStartOffer, peer: target})
	return Offering, effects
}

func onEnvelope(s snapshot, env signaling.Envelope) (State, []effect) {
	switch env.Type {
	case signaling.TypeRegistered:
		return s.state, []effect{{kind: effectNotify, note: Notification{Kind: NotifyRegistered, Peer: env.Identity}}}

	case signaling.TypeError:
		effects := []effect{{kind: effectNotify, note: Notification{Kind: NotifyError, Message: env.Message}}}
		if s.state == Offering && env.Message == signaling.NotAvailable(s.peer).Message {
			return Idle, append(effects,
				effect{kind: effectTeardown},
				effect{kind: effectMarkUnreachable, peer: s.peer})
		}
		// Candidates sent before the teardown each earn their own reply.
		if s.unreachable != "" && env.Message == signaling.NotAvailable(s.unreachable).Message {
			return drop(s, "repeated %q", env.Message)
		}
		return s.state, effects

	case signaling.TypeOffer:
		sdp, err := env.SessionDescription()
		if err != nil || env.From == "" || sdp.Type != webrtc.SDPTypeOffer {
			return drop(s, "offer from %q unusable: %v", env.From, err)
		}
		if s.state.active() {
			return s.state, []effect{notifyError("ignoring offer from %s: busy with %s", env.From, s.peer)}
		}
		return Answering, []effect{{kind: effectAcceptOffer, peer: env.From, sdp: sdp}}

	case signaling.TypeAnswer:
		if s.state != Offering || env.From != s.peer || s.remoteSet {
			return drop(s, "stale answer from %q in %s", env.From, s.state)
		}
		sdp, err := env.SessionDescription()
		if err != nil || sdp.Type != webrtc.SDPTypeAnswer {
			return drop(s, "answer from %q unusable: %v", env.From, err)
		}
		return Offering, []effect{{kind: effectApplyAnswer, sdp: sdp}}

	case signaling.TypeCandidate:
		if !s.state.active() || env.From != s.peer {
			return drop(s, "stale candidate from %q in %s", env.From, s.state)
		}
		c, err := env.ICECandidate()
		if err != nil {
			return drop(s, "candidate from %q unusable: %v", env.From, err)
		}
		if !s.remoteSet {
			return s.state, []effect{{kind: effectQueueCandidate, candidate: c}}
		}
		return s.state, []effect{{kind: effectAddCandidate, candidate: c}}
	}

	return drop(s, "ignoring %q envelope", env.Type)
}

func onSession(s snapshot, ev event) (State, []effect) {
	switch ev.kind {
	case eventLocalCandidate:
		return s.state, []effect{{kind: effectSendCandidate, candidate: ev.candidate}}

	case eventDescriptionsSet:
		if s.state == Offering || s.state == Answering {
			return Connecting, []effect{{kind: effectFlushCandidates}}
		}

	case eventConnectionState:
		switch ev.pcState {
		case webrtc.PeerConnectionStateConnected:
			if s.state == Connecting {
				return Open, nil
			}
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			return Closed, []effect{
				{kind: effectTeardown},
				notifyError("connection to %s lost (%s)", s.peer, ev.pcState),
			}
		}

	case eventChannelOpen:
		if s.state == Connecting {
			return Open, nil
		}

	case eventChannelMessage:
		return s.state, []effect{{kind: effectNotify, note: Notification{Kind: NotifyMessage, From: s.peer, Text: ev.text}}}

	case eventChannelClose:
		return Closed, []effect{{kind: effectTeardown}}

	case eventFailed:
		return Closed, []effect{
			{kind: effectTeardown},
			notifyError("negotiation with %s failed: %v", s.peer, ev.err),
		}
	}

	return s.state, nil
}

func drop(s snapshot, format string, args ...interface{}) (State, []effect) {
	util.LogDebug("negotiation: "+format, args...)
	return s.state, nil
}
