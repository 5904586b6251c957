package media

import (
	"github.com/pion/rtp"
)

// RTPReader reads RTP packets from an underlying source, typically a
// UDP socket bound to the session's local RTP port.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// RTPPacketReader wraps RTPReader with access to the most recently
// read packet's header fields without re-parsing.
type RTPPacketReader interface {
	RTPReader
	LastPacket() *rtp.Packet
}
