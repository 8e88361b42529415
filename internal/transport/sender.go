package transport

import (
	"context"
	"errors"

	"github.com/1ureka/rendezvous/internal/util"
	"github.com/pion/webrtc/v4"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 64         // outgoing message channel capacity
)

var (
	// ErrClosed is returned when sending on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrSendBufferFull is returned when the outgoing buffer is saturated.
	ErrSendBufferFull = errors.New("send buffer full")
)

// sender is a goroutine-based message writer that serializes all writes to a
// single DataChannel, adding open-gate and backpressure control.
type sender struct {
	inbox       chan string
	drainSignal chan struct{}
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled.
func newSender(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) *sender {
	s := &sender{
		inbox:       make(chan string, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the inbox with backpressure awareness.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	// Phase 1: wait for DC to be open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send messages with backpressure.
	for {
		select {
		case text := <-s.inbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.SendText(text); err != nil {
				util.LogError("failed to send message (%d bytes): %v", len(text), err)
				return
			}

			util.Stats.AddSent(len(text))
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a message for transmission without blocking.
func (s *sender) send(ctx context.Context, text string) error {
	if ctx.Err() != nil {
		return ErrClosed
	}

	select {
	case s.inbox <- text:
		return nil
	case <-ctx.Done():
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}
