package negotiation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rendezvous/internal/signaling"
	"github.com/1ureka/rendezvous/internal/transport"
	"github.com/1ureka/rendezvous/internal/util"
)

// Config wires an Engine to its collaborators.
type Config struct {
	// Identity is the local identity, used as From on outgoing envelopes.
	Identity string
	Signal   Signal
	NewPeer  PeerFactory
	Observer Observer
}

// session is the state of one negotiation. Owned by the Run goroutine.
type session struct {
	gen       uint64
	role      Role
	peer      string
	conn      Peer
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// Engine is the per-endpoint negotiation state machine.
type Engine struct {
	self     string
	signal   Signal
	newPeer  PeerFactory
	observer Observer

	events *util.Queue[event]
	notes  *util.Queue[Notification]
	done   chan struct{}

	// Mirrors for readers outside the loop.
	state     atomic.Int32
	relayGone atomic.Bool
	peerMu    sync.RWMutex
	peerName  string

	// Owned by Run.
	cur         State
	sess        *session
	nextGen     uint64
	relayLost   bool
	unreachable string
}

// New creates an engine in the Idle state. Call Run to start it.
func New(cfg Config) *Engine {
	return &Engine{
		self:     cfg.Identity,
		signal:   cfg.Signal,
		newPeer:  cfg.NewPeer,
		observer: cfg.Observer,
		events:   util.NewQueue[event](),
		notes:    util.NewQueue[Notification](),
		done:     make(chan struct{}),
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// Connect starts a new session with target as initiator, tearing down any
// current one. Errors found later are reported to the observer.
func (e *Engine) Connect(target string) error {
	target = strings.TrimSpace(target)
	switch {
	case target == "":
		return ErrMissingTarget
	case target == e.self:
		return ErrSelfTarget
	case e.relayGone.Load():
		return ErrRelayLost
	}
	return e.post(event{kind: eventConnect, target: target})
}

// Send queues text on the open data channel.
func (e *Engine) Send(text string) error {
	if e.State() != Open {
		return ErrNotOpen
	}
	return e.post(event{kind: eventSend, text: text})
}

// Disconnect ends the current session.
func (e *Engine) Disconnect() error {
	return e.post(event{kind: eventDisconnect})
}

// Deliver hands one raw relay frame to the engine. Malformed frames are
// dropped.
func (e *Engine) Deliver(raw []byte) {
	env, err := signaling.Decode(raw)
	if err != nil {
		util.Stats.AddMalformed()
		util.LogDebug("negotiation: dropping relay frame: %v", err)
		return
	}
	_ = e.post(event{kind: eventEnvelope, env: env})
}

// RelayLost reports that the relay connection is gone. Sessions already open
// keep working; new connects are refused.
func (e *Engine) RelayLost(err error) {
	e.relayGone.Store(true)
	_ = e.post(event{kind: eventRelayLost, err: err})
}

// State returns the current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Peer returns the identity of the current or most recent session peer.
func (e *Engine) Peer() string {
	e.peerMu.RLock()
	defer e.peerMu.RUnlock()
	return e.peerName
}

func (e *Engine) post(ev event) error {
	if !e.events.Push(ev) {
		return ErrStopped
	}
	return nil
}

// await returns once every event queued before it has been handled.
func (e *Engine) await(ctx context.Context) error {
	done := make(chan struct{})
	if err := e.post(event{kind: eventBarrier, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

// Run handles events until ctx is cancelled, then tears down the current
// session. Notifications are delivered on a separate goroutine.
func (e *Engine) Run(ctx context.Context) error {
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		e.deliver()
	}()

	defer func() {
		e.events.Close()
		close(e.done)
		<-delivered
	}()

	for {
		select {
		case <-e.events.Signal():
			for _, ev := range e.events.Drain() {
				e.dispatch(ev)
			}
		case <-ctx.Done():
			e.dispatch(event{kind: eventShutdown})
			return ctx.Err()
		}
	}
}

func (e *Engine) deliver() {
	for {
		select {
		case <-e.notes.Signal():
			for _, n := range e.notes.Drain() {
				e.notify(n)
			}
		case <-e.done:
			for _, n := range e.notes.Drain() {
				e.notify(n)
			}
			return
		}
	}
}

func (e *Engine) notify(n Notification) {
	if e.observer != nil {
		e.observer.Notify(n)
	}
}

// dispatch runs one event to completion, including the follow-up events its
// effects produce.
func (e *Engine) dispatch(ev event) {
	pending := []event{ev}
	for len(pending) > 0 {
		ev, pending = pending[0], pending[1:]

		prev := e.cur
		next, effects := transition(e.snapshot(), ev)
		e.setState(next)

		for _, eff := range effects {
			if follow := e.apply(eff); follow != nil {
				pending = append(pending, *follow)
			}
		}

		if e.cur != prev {
			e.announce(prev)
		}
		// A finished session is reported as Closed, then the engine is Idle.
		if e.cur == Closed {
			e.setState(Idle)
			e.announce(Closed)
		}
		if ev.done != nil {
			close(ev.done)
		}
	}
}

func (e *Engine) announce(prev State) {
	util.LogDebug("negotiation: %s → %s (%s)", prev, e.cur, e.Peer())
	e.notes.Push(Notification{Kind: NotifyState, State: e.cur, Peer: e.Peer()})
}

func (e *Engine) snapshot() snapshot {
	s := snapshot{self: e.self, state: e.cur, relayLost: e.relayLost, unreachable: e.unreachable}
	if e.sess != nil {
		s.peer = e.sess.peer
		s.gen = e.sess.gen
		s.remoteSet = e.sess.remoteSet
	}
	return s
}

func (e *Engine) setState(s State) {
	e.cur = s
	e.state.Store(int32(s))
}

func (e *Engine) setPeer(peer string) {
	e.peerMu.Lock()
	e.peerName = peer
	e.peerMu.Unlock()
}

// ---------------------------------------------------------------------------
// Effects
// ---------------------------------------------------------------------------

func (e *Engine) apply(eff effect) *event {
	switch eff.kind {
	case effectTeardown:
		e.teardown()

	case effectStartOffer:
		return e.startOffer(eff.peer)

	case effectAcceptOffer:
		return e.acceptOffer(eff.peer, eff.sdp)

	case effectApplyAnswer:
		return e.applyAnswer(eff.sdp)

	case effectQueueCandidate:
		if e.sess != nil {
			e.sess.pending = append(e.sess.pending, eff.candidate)
		}

	case effectAddCandidate:
		e.addCandidate(eff.candidate)

	case effectFlushCandidates:
		if e.sess != nil {
			pending := e.sess.pending
			e.sess.pending = nil
			for _, c := range pending {
				e.addCandidate(c)
			}
		}

	case effectSendCandidate:
		e.sendCandidate(eff.candidate)

	case effectSendText:
		if e.sess == nil || e.sess.conn == nil {
			break
		}
		if err := e.sess.conn.Send(eff.text); err != nil {
			e.notes.Push(Notification{Kind: NotifyError, Message: fmt.Sprintf("failed to send message: %v", err)})
		}

	case effectNotify:
		e.notes.Push(eff.note)

	case effectMarkRelayLost:
		e.relayLost = true

	case effectMarkUnreachable:
		e.unreachable = eff.peer
	}
	return nil
}

// open starts a new session generation and creates its peer.
func (e *Engine) open(peer string, role Role) (*session, error) {
	e.nextGen++
	sess := &session{gen: e.nextGen, role: role, peer: peer}
	e.sess = sess
	e.setPeer(peer)
	if peer == e.unreachable {
		e.unreachable = ""
	}
	util.LogDebug("negotiation: session %d with %s as %s", sess.gen, peer, role)

	conn, err := e.newPeer(e.hooks(sess.gen))
	if err != nil {
		return sess, fmt.Errorf("failed to create peer connection: %w", err)
	}
	sess.conn = conn
	return sess, nil
}

func (e *Engine) startOffer(target string) *event {
	sess, err := e.open(target, Initiator)
	if err != nil {
		return failed(sess.gen, err)
	}

	offer, err := sess.conn.CreateOffer()
	if err != nil {
		return failed(sess.gen, fmt.Errorf("failed to create offer: %w", err))
	}
	if err := sess.conn.SetLocalDescription(offer); err != nil {
		return failed(sess.gen, fmt.Errorf("failed to set local description: %w", err))
	}

	env, err := signaling.Offer(e.self, target, offer)
	if err == nil {
		err = e.signal.Send(env)
	}
	if err != nil {
		return failed(sess.gen, fmt.Errorf("failed to send offer: %w", err))
	}
	return nil
}

func (e *Engine) acceptOffer(from string, offer webrtc.SessionDescription) *event {
	sess, err := e.open(from, Responder)
	if err != nil {
		return failed(sess.gen, err)
	}

	if err := sess.conn.SetRemoteDescription(offer); err != nil {
		return failed(sess.gen, fmt.Errorf("failed to set remote description: %w", err))
	}
	sess.remoteSet = true

	answer, err := sess.conn.CreateAnswer()
	if err != nil {
		return failed(sess.gen, fmt.Errorf("failed to create answer: %w", err))
	}
	if err := sess.conn.SetLocalDescription(answer); err != nil {
		return failed(sess.gen, fmt.Errorf("failed to set local description: %w", err))
	}

	env, err := signaling.Answer(e.self, from, answer)
	if err == nil {
		err = e.signal.Send(env)
	}
	if err != nil {
		return failed(sess.gen, fmt.Errorf("failed to send answer: %w", err))
	}
	return &event{kind: eventDescriptionsSet, gen: sess.gen}
}

func (e *Engine) applyAnswer(answer webrtc.SessionDescription) *event {
	sess := e.sess
	if sess == nil || sess.conn == nil {
		return nil
	}

	if err := sess.conn.SetRemoteDescription(answer); err != nil {
		return failed(sess.gen, fmt.Errorf("failed to set remote description: %w", err))
	}
	sess.remoteSet = true
	return &event{kind: eventDescriptionsSet, gen: sess.gen}
}

func (e *Engine) addCandidate(c webrtc.ICECandidateInit) {
	if e.sess == nil || e.sess.conn == nil {
		return
	}
	if err := e.sess.conn.AddICECandidate(c); err != nil {
		util.LogWarning("negotiation: failed to add ICE candidate from %s: %v", e.sess.peer, err)
	}
}

func (e *Engine) sendCandidate(c webrtc.ICECandidateInit) {
	if e.sess == nil {
		return
	}
	env, err := signaling.Candidate(e.self, e.sess.peer, c)
	if err == nil {
		err = e.signal.Send(env)
	}
	if err != nil {
		util.LogDebug("negotiation: failed to send ICE candidate to %s: %v", e.sess.peer, err)
	}
}

func (e *Engine) teardown() {
	sess := e.sess
	if sess == nil {
		return
	}
	e.sess = nil

	if sess.conn != nil {
		if err := sess.conn.Close(); err != nil {
			util.LogDebug("negotiation: closing session with %s: %v", sess.peer, err)
		}
	}
}

func failed(gen uint64, err error) *event {
	return &event{kind: eventFailed, gen: gen, err: err}
}

// hooks routes a session's callbacks into the event queue, tagged with its
// generation.
func (e *Engine) hooks(gen uint64) transport.Hooks {
	return transport.Hooks{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			_ = e.post(event{kind: eventLocalCandidate, gen: gen, candidate: c})
		},
		OnConnectionState: func(state webrtc.PeerConnectionState) {
			_ = e.post(event{kind: eventConnectionState, gen: gen, pcState: state})
		},
		OnOpen: func() {
			_ = e.post(event{kind: eventChannelOpen, gen: gen})
		},
		OnMessage: func(text string) {
			_ = e.post(event{kind: eventChannelMessage, gen: gen, text: text})
		},
		OnClose: func() {
			_ = e.post(event{kind: eventChannelClose, gen: gen})
		},
	}
}

var _ Peer = (*transport.Transport)(nil)
