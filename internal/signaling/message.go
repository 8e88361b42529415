// Package signaling defines the envelopes exchanged with the rendezvous relay
// and a WebSocket client that carries them.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Type identifies the kind of signaling envelope.
type Type string

const (
	TypeRegister   Type = "register"
	TypeRegistered Type = "registered"
	TypeOffer      Type = "offer"
	TypeAnswer     Type = "answer"
	TypeCandidate  Type = "ice-candidate"
	TypeError      Type = "error"
)

// Routed reports whether envelopes of this type are forwarded by the relay
// to the identity named in To.
func (t Type) Routed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	}
	return false
}

// ErrMalformed is returned by Decode when a frame is not a JSON envelope.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the JSON object exchanged over the relay WebSocket, one per
// frame. SDP and Candidate are opaque to the relay and passed through
// verbatim.
type Envelope struct {
	Type      Type            `json:"type"`
	Identity  string          `json:"identity,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Decode parses one frame. Unknown types are not an error here; callers
// decide what to ignore.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

// Encode serializes the envelope into a single frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// SessionDescription unpacks the SDP payload of an offer or answer.
func (e Envelope) SessionDescription() (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	if len(e.SDP) == 0 {
		return sdp, fmt.Errorf("%w: %s without sdp", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.SDP, &sdp); err != nil {
		return sdp, fmt.Errorf("%w: sdp: %v", ErrMalformed, err)
	}
	return sdp, nil
}

// ICECandidate unpacks the candidate payload of an ice-candidate envelope.
func (e Envelope) ICECandidate() (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if len(e.Candidate) == 0 {
		return c, fmt.Errorf("%w: %s without candidate", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Candidate, &c); err != nil {
		return c, fmt.Errorf("%w: candidate: %v", ErrMalformed, err)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func Register(identity string) Envelope {
	return Envelope{Type: TypeRegister, Identity: identity}
}

func Registered(identity string) Envelope {
	return Envelope{Type: TypeRegistered, Identity: identity}
}

func Error(message string) Envelope {
	return Envelope{Type: TypeError, Message: message}
}

// NotAvailable is the relay's reply when a routed envelope names an identity
// without a live handle.
func NotAvailable(to string) Envelope {
	return Error(to + " not available")
}

func Offer(from, to string, sdp webrtc.SessionDescription) (Envelope, error) {
	return describe(TypeOffer, from, to, sdp)
}

func Answer(from, to string, sdp webrtc.SessionDescription) (Envelope, error) {
	return describe(TypeAnswer, from, to, sdp)
}

func Candidate(from, to string, c webrtc.ICECandidateInit) (Envelope, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeCandidate, From: from, To: to, Candidate: data}, nil
}

func describe(t Type, from, to string, sdp webrtc.SessionDescription) (Envelope, error) {
	data, err := json.Marshal(sdp)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, From: from, To: to, SDP: data}, nil
}
