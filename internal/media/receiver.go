package media

import (
	"net"
	"sync/atomic"

	"github.com/pion/rtp"
)

// Receiver reads inbound RTP from one session's local UDP socket. Per
// spec.md §4.1's failure mode, malformed packets (too short, wrong
// version) are counted and dropped silently rather than surfaced
// upstream.
type Receiver struct {
	conn net.PacketConn
	buf  [1500]byte

	malformed atomic.Uint64
	received  atomic.Uint64

	last *rtp.Packet
}

// NewReceiver wraps conn for one session's inbound RTP.
func NewReceiver(conn net.PacketConn) *Receiver {
	return &Receiver{conn: conn}
}

// ReadRTP blocks for the next datagram and parses it. Malformed
// datagrams are retried transparently (the loop keeps reading) rather
// than returned as an error, since a single malformed packet must not
// stall the caller waiting on real audio.
func (r *Receiver) ReadRTP() (*rtp.Packet, error) {
	for {
		n, _, err := r.conn.ReadFrom(r.buf[:])
		if err != nil {
			return nil, err
		}
		pkt, err := ParsePacket(r.buf[:n])
		if err != nil {
			r.malformed.Add(1)
			continue
		}
		if pkt.Version != 2 {
			r.malformed.Add(1)
			continue
		}
		r.received.Add(1)
		r.last = pkt
		return pkt, nil
	}
}

// LastPacket returns the most recently parsed packet, or nil if none
// has been read yet.
func (r *Receiver) LastPacket() *rtp.Packet { return r.last }

// MalformedCount returns the running count of dropped malformed
// packets, for diagnostics/logging only.
func (r *Receiver) MalformedCount() uint64 { return r.malformed.Load() }

// ReceivedCount returns the running count of successfully parsed
// packets.
func (r *Receiver) ReceivedCount() uint64 { return r.received.Load() }

// IsDTMFPayloadType reports whether pt is the RFC 4733 telephone-event
// payload type, so the caller can route it to DTMF handling instead of
// audio decoding. DTMF-to-AI is out of scope (spec.md Non-goals); this
// only lets the receive path recognize and discard the event stream
// distinctly from a malformed audio frame.
func IsDTMFPayloadType(pt uint8) bool {
	return pt == DTMFPayloadType
}

var _ RTPPacketReader = (*Receiver)(nil)
