// Package ids generates the random identifiers the SIP and RTP layers
// need: tags, branches, Call-IDs, SSRCs and digest cnonces.
package ids

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// BranchMagicCookie is the RFC 3261 magic cookie every Via branch parameter
// generated by this process must begin with.
const BranchMagicCookie = "z9hG4bK"

// NewBranch generates a new Via branch parameter with the magic cookie.
func NewBranch() string {
	return BranchMagicCookie + hexRandom(8)
}

// NewTag generates a local From/To tag.
func NewTag() string {
	return hexRandom(8)
}

// NewCallID generates a fresh Call-ID for a new registration cycle or dialog.
// host is appended after the "@" the way most SIP stacks format Call-IDs.
func NewCallID(host string) string {
	if host == "" {
		return uuid.New().String()
	}
	return fmt.Sprintf("%s@%s", uuid.New().String(), host)
}

// NewCNonce generates a 16-hex-character client nonce for RFC 2617 qop=auth.
func NewCNonce() string {
	return hexRandom(8)
}

// GenerateSSRC returns a cryptographically random 32-bit RTP SSRC.
// Per RFC 3550 the SSRC should be chosen randomly to minimize collisions.
func GenerateSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x5a5a5a5a
	}
	return binary.BigEndian.Uint32(b[:])
}

// GenerateSequenceStart returns a random initial RTP sequence number.
func GenerateSequenceStart() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// GenerateTimestampStart returns a random initial RTP timestamp.
func GenerateTimestampStart() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

func hexRandom(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the system RNG is broken; fall back to
		// a fixed pattern rather than crashing a live registration attempt.
		for i := range b {
			b[i] = byte(i)
		}
	}
	return hex.EncodeToString(b)
}
