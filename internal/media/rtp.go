package media

import (
	"fmt"

	"github.com/pion/rtp"
)

// MinHeaderLen is the fixed RTP header size before CSRC/extension, per
// RFC 3550 and spec.md §4.1: version/flags, marker+PT, sequence,
// timestamp, SSRC.
const MinHeaderLen = 12

// BuildHeader constructs a 12-byte-fixed RTP header for one outbound
// frame: version 2, no padding/extension, marker as given, the given
// payload type/sequence/timestamp/ssrc.
func BuildHeader(pt uint8, marker bool, seq uint16, timestamp, ssrc uint32) rtp.Header {
	return rtp.Header{
		Version:        2,
		Marker:         marker,
		PayloadType:    pt,
		SequenceNumber: seq,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}
}

// ParsePacket unmarshals a wire-format RTP packet, rejecting anything
// shorter than the fixed 12-byte header before handing off to
// pion/rtp, which itself accounts for CSRC count and the extension bit
// when computing header length.
func ParsePacket(data []byte) (*rtp.Packet, error) {
	if len(data) < MinHeaderLen {
		return nil, fmt.Errorf("rtp: packet too short: %d bytes", len(data))
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("rtp: malformed packet: %w", err)
	}
	return pkt, nil
}
