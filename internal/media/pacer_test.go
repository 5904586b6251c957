package media

import (
	"net"
	"testing"
	"time"
)

func TestPacerBackpressureDropsOldest(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	p := NewPacer(conn, conn.LocalAddr(), CodecPCMU, 1, 0, 0)
	defer p.Close()

	for i := 0; i < backpressureFrames+3; i++ {
		p.Send([]byte{byte(i)})
	}
	if got := p.QueuedFrames(); got != backpressureFrames {
		t.Fatalf("expected queue capped at %d frames, got %d", backpressureFrames, got)
	}
}

func TestPacerEmitsPacedPackets(t *testing.T) {
	recvConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer recvConn.Close()

	sendConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sendConn.Close()

	p := NewPacer(sendConn, recvConn.LocalAddr(), CodecPCMU, 0xCAFE, 100, 2000)
	stop := make(chan struct{})
	go p.Run(stop)
	defer func() { p.Close(); close(stop) }()

	payload := make([]byte, CodecPCMU.SamplesPerFrame())
	p.Send(payload)

	recvConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1500)
	n, _, err := recvConn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	pkt, err := ParsePacket(buf[:n])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pkt.SequenceNumber != 100 {
		t.Errorf("expected sequence 100, got %d", pkt.SequenceNumber)
	}
	if pkt.Timestamp != 2000 {
		t.Errorf("expected timestamp 2000, got %d", pkt.Timestamp)
	}
	if pkt.SSRC != 0xCAFE {
		t.Errorf("expected SSRC 0xCAFE, got %#x", pkt.SSRC)
	}
	if len(pkt.Payload) != len(payload) {
		t.Errorf("expected payload length %d, got %d", len(payload), len(pkt.Payload))
	}
}
