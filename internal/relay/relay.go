// Package relay implements the rendezvous relay: an identity → connection
// registry that forwards signaling envelopes between endpoints.
//
// All registry state is owned by the goroutine running Relay.Run. Transports
// report their lifecycle through Connect, Message and Disconnect, which only
// enqueue events.
package relay

import (
	"context"
	"errors"

	"github.com/1ureka/rendezvous/internal/signaling"
	"github.com/1ureka/rendezvous/internal/util"
)

var (
	// ErrNotLive is returned by Conn.Send when the transport is closing.
	ErrNotLive = errors.New("connection not live")
	// ErrSendQueueFull is returned by Conn.Send when the outbound queue is full.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrStopped is returned by resolve once the relay loop has exited.
	ErrStopped = errors.New("relay stopped")
)

// Conn is one endpoint transport as seen by the relay.
type Conn interface {
	// ID is unique per transport for the lifetime of the process.
	ID() string
	// Send queues one frame for delivery. It must not block.
	Send(frame []byte) error
	// Live reports whether the transport is still open.
	Live() bool
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventMessage
	eventDisconnect
	eventResolve
)

type event struct {
	kind     eventKind
	conn     Conn
	frame    []byte
	identity string
	reply    chan Conn
}

// Relay is the registry. Create it with New and drive it with Run.
type Relay struct {
	events *util.Queue[event]
	done   chan struct{}

	// Owned by Run.
	handles map[string]Conn   // identity → transport
	bound   map[string]string // transport ID → identity it registered
}

// New creates an idle relay.
func New() *Relay {
	return &Relay{
		events:  util.NewQueue[event](),
		done:    make(chan struct{}),
		handles: make(map[string]Conn),
		bound:   make(map[string]string),
	}
}

// Connect reports a newly accepted transport.
func (r *Relay) Connect(c Conn) {
	r.events.Push(event{kind: eventConnect, conn: c})
}

// Message reports one inbound frame from c.
func (r *Relay) Message(c Conn, frame []byte) {
	r.events.Push(event{kind: eventMessage, conn: c, frame: frame})
}

// Disconnect reports that c has closed.
func (r *Relay) Disconnect(c Conn) {
	r.events.Push(event{kind: eventDisconnect, conn: c})
}

// resolve returns the transport currently bound to identity. It is answered
// by the event loop, after every event queued before it.
func (r *Relay) resolve(ctx context.Context, identity string) (Conn, bool, error) {
	reply := make(chan Conn, 1)
	if !r.events.Push(event{kind: eventResolve, identity: identity, reply: reply}) {
		return nil, false, ErrStopped
	}

	select {
	case c := <-reply:
		return c, c != nil, nil
	case <-r.done:
		return nil, false, ErrStopped
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Run processes events one at a time until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.events.Close()

	for {
		select {
		case <-r.events.Signal():
			for _, ev := range r.events.Drain() {
				r.handle(ev)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) handle(ev event) {
	switch ev.kind {
	case eventConnect:
		util.LogDebug("relay: connection %s opened", ev.conn.ID())

	case eventMessage:
		r.handleFrame(ev.conn, ev.frame)

	case eventDisconnect:
		r.unbind(ev.conn)
		util.LogDebug("relay: connection %s closed (%d registered)", ev.conn.ID(), len(r.handles))

	case eventResolve:
		ev.reply <- r.handles[ev.identity]
	}
}

func (r *Relay) handleFrame(c Conn, frame []byte) {
	env, err := signaling.Decode(frame)
	if err != nil {
		util.Stats.AddMalformed()
		util.LogDebug("relay: dropping frame from %s: %v", c.ID(), err)
		return
	}

	switch {
	case env.Type == signaling.TypeRegister:
		r.register(c, env.Identity)

	case env.Type.Routed():
		r.route(c, env, frame)

	default:
		util.LogDebug("relay: ignoring %q envelope from %s", env.Type, c.ID())
	}
}

// register binds identity to c, replacing any previous holder without
// notice. A connection holds at most one identity.
func (r *Relay) register(c Conn, identity string) {
	if prev, ok := r.bound[c.ID()]; ok && prev != identity && r.handles[prev] == c {
		delete(r.handles, prev)
	}
	if old, ok := r.handles[identity]; ok && old != c {
		util.LogDebug("relay: %q moves from %s to %s", identity, old.ID(), c.ID())
	}

	r.handles[identity] = c
	r.bound[c.ID()] = identity
	util.Stats.AddRegistration()
	util.LogInfo("relay: registered %q (%d registered)", identity, len(r.handles))

	r.reply(c, signaling.Registered(identity))
}

// route forwards frame unmodified to the handle named by env.To, or tells the
// sender that the target is unavailable.
func (r *Relay) route(c Conn, env signaling.Envelope, frame []byte) {
	target, ok := r.handles[env.To]
	if !ok || !target.Live() {
		util.Stats.AddUndeliverable()
		util.LogDebug("relay: %s from %q: %q not available", env.Type, env.From, env.To)
		r.reply(c, signaling.NotAvailable(env.To))
		return
	}

	if err := target.Send(frame); err != nil {
		util.LogWarning("relay: failed to forward %s to %q: %v", env.Type, env.To, err)
		return
	}
	util.Stats.AddForwarded()
	util.LogDebug("relay: forwarded %s from %q to %q", env.Type, env.From, env.To)
}

func (r *Relay) reply(c Conn, env signaling.Envelope) {
	data, err := env.Encode()
	if err != nil {
		util.LogError("relay: failed to encode %s: %v", env.Type, err)
		return
	}
	if err := c.Send(data); err != nil {
		util.LogDebug("relay: failed to reply %s to %s: %v", env.Type, c.ID(), err)
	}
}

// unbind removes c's registration if it still owns it.
func (r *Relay) unbind(c Conn) {
	identity, ok := r.bound[c.ID()]
	if !ok {
		return
	}
	delete(r.bound, c.ID())

	if r.handles[identity] == c {
		delete(r.handles, identity)
		util.LogInfo("relay: %q disconnected (%d registered)", identity, len(r.handles))
	}
}
