package media

import "testing"

func TestParsePacketRejectsShortPacket(t *testing.T) {
	for _, n := range []int{0, 1, 11} {
		if _, err := ParsePacket(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d-byte packet", n)
		}
	}
}

func TestBuildAndParseRoundTrip(t *testing.T) {
	hdr := BuildHeader(CodecPCMU.PayloadType, false, 1000, 5000, 0xAABBCCDD)
	if hdr.Version != 2 {
		t.Fatalf("expected version 2, got %d", hdr.Version)
	}
	if hdr.PayloadType != 0 {
		t.Fatalf("expected PCMU payload type 0, got %d", hdr.PayloadType)
	}
	if hdr.SequenceNumber != 1000 || hdr.Timestamp != 5000 || hdr.SSRC != 0xAABBCCDD {
		t.Fatalf("unexpected header fields: %+v", hdr)
	}
}

func TestIsDTMFPayloadType(t *testing.T) {
	if !IsDTMFPayloadType(101) {
		t.Fatal("expected payload type 101 to be recognized as DTMF")
	}
	if IsDTMFPayloadType(0) {
		t.Fatal("PCMU payload type must not be mistaken for DTMF")
	}
}
