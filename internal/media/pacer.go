package media

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// backpressureFrames is the outbound queue depth in codec frames, per
// spec.md §4.1/§9: 40ms of buffering (two 20ms G.711 frames) before
// the pacer starts dropping the oldest queued material rather than
// let latency grow unbounded.
const backpressureFrames = 2

// Pacer clock-paces one session's outbound RTP stream: payloads
// enqueued with Send are emitted on a fixed 20ms ticker, one packet
// per tick, with sequence/timestamp advancing per spec.md §4.1's
// pacing rule. Adapted from the teacher's RTPStreamWriter, reworked to
// decouple enqueue from the clock so a burst of AI audio deltas can't
// stall the caller feeding it and instead bounds via drop-oldest
// backpressure.
type Pacer struct {
	conn       net.PacketConn
	remoteAddr net.Addr
	codec      Codec

	ssrc      uint32
	seq       uint16
	timestamp uint32

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	done   chan struct{}
}

// NewPacer creates a Pacer bound to conn/remote, with SSRC/sequence/
// timestamp starting points as generated by the caller (typically
// internal/ids).
func NewPacer(conn net.PacketConn, remote net.Addr, codec Codec, ssrc uint32, seqStart uint16, tsStart uint32) *Pacer {
	return &Pacer{
		conn:       conn,
		remoteAddr: remote,
		codec:      codec,
		ssrc:       ssrc,
		seq:        seqStart,
		timestamp:  tsStart,
		done:       make(chan struct{}),
	}
}

// Send enqueues one encoded frame (already sized to one frame: the
// codec's SamplesPerFrame bytes for G.711) for
// transmission on the next tick. If the queue already holds
// backpressureFrames worth of audio, the oldest queued frame is
// dropped to make room: the far end cannot use stale material anyway.
func (p *Pacer) Send(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if len(p.queue) >= backpressureFrames {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, payload)
}

// QueuedFrames reports how many frames are currently buffered, mostly
// for tests and diagnostics.
func (p *Pacer) QueuedFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Run drives the pacer's clock until stopCh closes or Close is called.
// Every codec.SampleDur it dequeues one frame (skipping the tick if
// none is queued yet, i.e. silence is simply not sent) and writes it
// as an RTP packet.
func (p *Pacer) Run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(p.codec.SampleDur)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.tick()
		case <-stopCh:
			return
		case <-p.done:
			return
		}
	}
}

func (p *Pacer) tick() {
	p.mu.Lock()
	if p.closed || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	payload := p.queue[0]
	p.queue = p.queue[1:]
	seq := p.seq
	ts := p.timestamp
	p.seq++
	p.timestamp += p.codec.TimestampIncrement()
	p.mu.Unlock()

	pkt := &rtp.Packet{
		Header:  BuildHeader(p.codec.PayloadType, false, seq, ts, p.ssrc),
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return
	}
	_, _ = p.conn.WriteTo(data, p.remoteAddr)
}

// WriteImmediate bypasses the queue/clock entirely, used for DTMF
// telephone-event packets that need their own timing control rather
// than sharing the audio pacer's ticker.
func (p *Pacer) WriteImmediate(pt uint8, marker bool, payload []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pacer closed")
	}
	seq := p.seq
	ts := p.timestamp
	ssrc := p.ssrc
	p.seq++
	p.mu.Unlock()

	pkt := &rtp.Packet{
		Header:  BuildHeader(pt, marker, seq, ts, ssrc),
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = p.conn.WriteTo(data, p.remoteAddr)
	return err
}

// Close stops the pacer and releases its queue.
func (p *Pacer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.queue = nil
	close(p.done)
}
