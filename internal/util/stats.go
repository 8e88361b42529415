package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/message counter.
var Stats = &stats{}

type stats struct {
	TotalConns    atomic.Int64 // relay connections accepted since process start
	ClosedConns   atomic.Int64 // relay connections closed since process start
	Registrations atomic.Int64 // register envelopes applied
	Forwarded     atomic.Int64 // envelopes routed to a live handle
	Undeliverable atomic.Int64 // envelopes answered with "<to> not available"
	Malformed     atomic.Int64 // inbound frames that failed to decode
	MessagesSent  atomic.Int64 // chat messages written to a DataChannel
	MessagesRecv  atomic.Int64 // chat messages read from a DataChannel
	BytesSent     atomic.Int64 // cumulative bytes written to DataChannel
	BytesRecv     atomic.Int64 // cumulative bytes read from DataChannel
}

func (s *stats) AddConn()          { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()       { s.ClosedConns.Add(1) }
func (s *stats) AddRegistration()  { s.Registrations.Add(1) }
func (s *stats) AddForwarded()     { s.Forwarded.Add(1) }
func (s *stats) AddUndeliverable() { s.Undeliverable.Add(1) }
func (s *stats) AddMalformed()     { s.Malformed.Add(1) }

func (s *stats) AddSent(n int) {
	s.MessagesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MessagesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	conns, closed, forwarded, undeliverable, malformed int64
	sent, recv                                         int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		conns:         s.TotalConns.Load(),
		closed:        s.ClosedConns.Load(),
		forwarded:     s.Forwarded.Load(),
		undeliverable: s.Undeliverable.Load(),
		malformed:     s.Malformed.Load(),
		sent:          s.BytesSent.Load(),
		recv:          s.BytesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs relay and channel
// statistics every interval, only when something changed since the last
// report. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.sub(prev), interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		conns:         s.conns - o.conns,
		closed:        s.closed - o.closed,
		forwarded:     s.forwarded - o.forwarded,
		undeliverable: s.undeliverable - o.undeliverable,
		malformed:     s.malformed - o.malformed,
		sent:          s.sent - o.sent,
		recv:          s.recv - o.recv,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a one-line summary of a counter delta over interval.
func formatStats(d snapshot, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("Conn: %2d↑ %2d↓ | Fwd: %d | Unavail: %d | Bad: %d | In: %s/s | Out: %s/s",
		d.conns,
		d.closed,
		d.forwarded,
		d.undeliverable,
		d.malformed,
		formatBytes(float64(d.recv)/secs),
		formatBytes(float64(d.sent)/secs),
	)
}
