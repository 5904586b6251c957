package media

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestUlawRoundTripWithinQuantizationBand(t *testing.T) {
	for _, s := range []int16{0, 1, -1, 100, -100, 1000, -1000, 16000, -16000, 32635, -32635} {
		encoded := EncodeUlaw(pcmBytes([]int16{s}))
		if len(encoded) != 1 {
			t.Fatalf("EncodeUlaw(%d): expected 1 byte, got %d", s, len(encoded))
		}
		decoded := DecodeUlaw(encoded)
		got := int16(binary.LittleEndian.Uint16(decoded))

		// spec.md §7: max absolute error <= 1 << exponent_of(x), loosely
		// bounded here by a generous tolerance proportional to magnitude.
		tolerance := int32(math.Abs(float64(s)))/16 + 16
		diff := int32(s) - int32(got)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			t.Errorf("ulaw round trip %d -> %d exceeds tolerance %d", s, got, tolerance)
		}
	}
}

func TestReferenceUlawMatchesLibrary(t *testing.T) {
	for _, s := range []int16{0, 255, -255, 4000, -4000, 32000, -32000} {
		ref := referenceUlawEncode(s)
		lib := EncodeUlaw(pcmBytes([]int16{s}))[0]
		if ref != lib {
			t.Errorf("referenceUlawEncode(%d)=%#x, library=%#x", s, ref, lib)
		}
	}
}

func TestReferenceUlawDecodeRoundTrip(t *testing.T) {
	for _, s := range []int16{0, 255, -255, 4000, -4000, 32000, -32000} {
		encoded := referenceUlawEncode(s)
		decoded := referenceUlawDecode(encoded)
		diff := int32(s) - int32(decoded)
		if diff < 0 {
			diff = -diff
		}
		if diff > int32(s)/8+32 {
			t.Errorf("reference ulaw round trip %d -> %d out of band", s, decoded)
		}
	}
}

func TestAlawEncodeDecodeRoundTrip(t *testing.T) {
	for _, s := range []int16{0, 100, -100, 8000, -8000, 30000, -30000} {
		encoded := EncodeAlaw(pcmBytes([]int16{s}))
		decoded := DecodeAlaw(encoded)
		got := int16(binary.LittleEndian.Uint16(decoded))
		diff := int32(s) - int32(got)
		if diff < 0 {
			diff = -diff
		}
		tolerance := int32(math.Abs(float64(s)))/16 + 16
		if diff > tolerance {
			t.Errorf("alaw round trip %d -> %d exceeds tolerance %d", s, got, tolerance)
		}
	}
}

func TestCodecByPayloadType(t *testing.T) {
	if c, err := CodecByPayloadType(0); err != nil || c.Name != "PCMU" {
		t.Fatalf("expected PCMU for pt 0, got %+v err=%v", c, err)
	}
	if c, err := CodecByPayloadType(8); err != nil || c.Name != "PCMA" {
		t.Fatalf("expected PCMA for pt 8, got %+v err=%v", c, err)
	}
	if _, err := CodecByPayloadType(96); err == nil {
		t.Fatal("expected error for unsupported payload type 96")
	}
}

func TestSamplesPerFrame(t *testing.T) {
	if n := CodecPCMU.SamplesPerFrame(); n != 160 {
		t.Fatalf("expected 160 samples per 20ms frame at 8kHz, got %d", n)
	}
	if inc := CodecPCMU.TimestampIncrement(); inc != 160 {
		t.Fatalf("expected timestamp increment 160, got %d", inc)
	}
}
