package session

import (
	"log/slog"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/pion/rtp"
)

// mailboxCapacity is the per-session inbox depth from spec.md §5.
const mailboxCapacity = 32

// eventKind discriminates what a mailbox event carries, mirroring the
// sum-type dispatch used for AI messages in internal/realtime.
type eventKind int

const (
	eventSIPRequest eventKind = iota
	eventRTPPacket
	eventAIMessage
	eventTimer
)

// aiMessageKind narrows eventAIMessage to the specific callback the
// realtime client invoked.
type aiMessageKind int

const (
	aiSessionUpdated aiMessageKind = iota
	aiSpeechStarted
	aiSpeechStopped
	aiAudioDelta
	aiResponseDone
	aiFunctionCall
	aiFatalError
	aiDisconnected
)

// event is the mailbox's single message type: exactly one of its
// payload fields is meaningful, selected by kind.
type event struct {
	kind eventKind

	// eventSIPRequest
	req *sip.Request
	tx  sip.ServerTransaction

	// eventRTPPacket
	rtpPacket *rtp.Packet

	// eventAIMessage
	aiKind     aiMessageKind
	audioDelta []byte
	fnName     string
	fnCallID   string
	fnArgsJSON string
	err        error

	// eventTimer
	timerName string
}

// mailbox is the bounded, serially drained inbox described in spec.md
// §5: one per session, holding SIP requests, RTP frames, AI messages,
// and timer firings. A full mailbox drops the oldest event rather than
// block the publisher, matching the non-blocking-publish idiom already
// used by internal/events.Bus.
type mailbox struct {
	mu     sync.Mutex
	ch     chan event
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan event, mailboxCapacity)}
}

func (m *mailbox) send(e event) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	select {
	case m.ch <- e:
	default:
		select {
		case old := <-m.ch:
			slog.Warn("session: mailbox full, dropping oldest event", "dropped_kind", old.kind)
		default:
		}
		select {
		case m.ch <- e:
		default:
		}
	}
}

func (m *mailbox) recv() <-chan event { return m.ch }

// close marks the mailbox unusable; further sends are no-ops. Queued
// events are left for the drain loop to consume and discard.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
