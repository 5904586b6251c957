// Package media implements the G.711 codec transforms and RTP
// packetization described in spec.md §4.1 (component C1).
package media

import (
	"fmt"
	"time"

	"github.com/zaf/g711"
)

// Codec is an immutable G.711 variant specification. Only the two
// payload types spec.md §4.1 names are ever constructed.
type Codec struct {
	Name        string
	PayloadType uint8
	SampleRate  uint32
	SampleDur   time.Duration
}

var (
	// CodecPCMU is G.711 μ-law, payload type 0, the default when no
	// offer match is found.
	CodecPCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond}

	// CodecPCMA is G.711 A-law, payload type 8.
	CodecPCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond}
)

// SamplesPerFrame returns samples per 20ms frame: 160 at 8kHz.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.SampleDur) / int(time.Second)
}

// TimestampIncrement is the RTP timestamp delta between successive
// frames, equal to SamplesPerFrame for 8-bit-per-sample G.711.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// CodecByPayloadType resolves a payload type to a Codec, used when
// parsing the SDP offer's m=audio payload list.
func CodecByPayloadType(pt uint8) (Codec, error) {
	switch pt {
	case CodecPCMU.PayloadType:
		return CodecPCMU, nil
	case CodecPCMA.PayloadType:
		return CodecPCMA, nil
	default:
		return Codec{}, fmt.Errorf("unsupported payload type %d", pt)
	}
}

// EncodeUlaw converts linear 16-bit PCM (little-endian, one sample per
// two bytes) into G.711 μ-law. Delegates to zaf/g711; see
// referenceUlawEncode for the bit-level algorithm this matches.
func EncodeUlaw(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm)
}

// DecodeUlaw converts G.711 μ-law back to linear 16-bit PCM.
func DecodeUlaw(ulaw []byte) []byte {
	return g711.DecodeUlaw(ulaw)
}

// EncodeAlaw converts linear 16-bit PCM into G.711 A-law.
func EncodeAlaw(pcm []byte) []byte {
	return g711.EncodeAlaw(pcm)
}

// DecodeAlaw converts G.711 A-law back to linear 16-bit PCM.
func DecodeAlaw(alaw []byte) []byte {
	return g711.DecodeAlaw(alaw)
}

// Encode dispatches to the codec-appropriate encoder.
func Encode(c Codec, pcm []byte) ([]byte, error) {
	switch c.PayloadType {
	case CodecPCMU.PayloadType:
		return EncodeUlaw(pcm), nil
	case CodecPCMA.PayloadType:
		return EncodeAlaw(pcm), nil
	default:
		return nil, fmt.Errorf("unsupported codec %s", c.Name)
	}
}

// Decode dispatches to the codec-appropriate decoder.
func Decode(c Codec, encoded []byte) ([]byte, error) {
	switch c.PayloadType {
	case CodecPCMU.PayloadType:
		return DecodeUlaw(encoded), nil
	case CodecPCMA.PayloadType:
		return DecodeAlaw(encoded), nil
	default:
		return nil, fmt.Errorf("unsupported codec %s", c.Name)
	}
}

const ulawBias = 0x84

// referenceUlawEncode is the bit-level μ-law encoder from spec.md §4.1,
// kept as a test oracle for EncodeUlaw rather than the production path:
// clip to ±32635, add the bias, find the exponent by leading-zero
// position on the 13-bit magnitude, take the 4-bit mantissa, emit the
// inverted sign|exponent|mantissa byte.
func referenceUlawEncode(sample int16) byte {
	const clip = 32635
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask&s == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// referenceUlawDecode is the bit-level μ-law decoder from spec.md §4.1:
// invert bits, extract sign/exponent/mantissa, reconstruct the linear
// sample and re-apply sign. Kept as a test oracle for DecodeUlaw.
func referenceUlawDecode(encoded byte) int16 {
	b := ^encoded
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	sample := int32(mantissa)<<(exponent+3) + ulawBias<<exponent - ulawBias
	if exponent != 0 {
		sample += 1 << (exponent + 2)
	}
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// referenceAlawEncode is the bit-level A-law encoder from spec.md §4.1:
// the μ-law-analogous construction with the final byte XORed with
// 0x55. Kept as a test oracle for EncodeAlaw.
func referenceAlawEncode(sample int16) byte {
	sign := byte(0x80)
	s := int32(sample)
	if s < 0 {
		s = -s
	} else {
		sign = 0
	}
	if s > 32635 {
		s = 32635
	}

	var exponent, mantissa byte
	if s >= 256 {
		exponent = 7
		for mask := int32(0x4000); mask&s == 0 && exponent > 0; mask >>= 1 {
			exponent--
		}
		mantissa = byte(s>>(exponent+3)) & 0x0F
	} else {
		exponent = 0
		mantissa = byte(s >> 4)
	}
	return (sign | exponent<<4 | mantissa) ^ 0x55
}

// referenceAlawDecode is the bit-level A-law decoder, the inverse of
// referenceAlawEncode.
func referenceAlawDecode(encoded byte) int16 {
	b := encoded ^ 0x55
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	var sample int32
	if exponent == 0 {
		sample = int32(mantissa)<<4 + 8
	} else {
		sample = (int32(mantissa)<<4+0x108)<<(exponent-1) + 0
	}
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}
