package session

import "testing"

func TestMailboxSendRecv(t *testing.T) {
	mb := newMailbox()
	mb.send(event{kind: eventTimer, timerName: "ack-wait"})

	select {
	case e := <-mb.recv():
		if e.kind != eventTimer || e.timerName != "ack-wait" {
			t.Errorf("got %+v, want eventTimer/ack-wait", e)
		}
	default:
		t.Fatal("expected a queued event")
	}
}

func TestMailboxDropsOldestWhenFull(t *testing.T) {
	mb := newMailbox()
	for i := 0; i < mailboxCapacity; i++ {
		mb.send(event{kind: eventTimer, timerName: "keep"})
	}
	// one more than capacity: the oldest ("keep") should be evicted for
	// this one.
	mb.send(event{kind: eventTimer, timerName: "newest"})

	if got := len(mb.recv()); got != mailboxCapacity {
		t.Fatalf("mailbox length = %d, want %d", got, mailboxCapacity)
	}

	var last event
	for i := 0; i < mailboxCapacity; i++ {
		last = <-mb.recv()
	}
	if last.timerName != "newest" {
		t.Errorf("last drained event = %q, want %q", last.timerName, "newest")
	}
}

func TestMailboxCloseStopsSends(t *testing.T) {
	mb := newMailbox()
	mb.close()
	mb.send(event{kind: eventTimer, timerName: "after-close"})

	select {
	case e := <-mb.recv():
		t.Errorf("expected no event after close, got %+v", e)
	default:
	}
}
