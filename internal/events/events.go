// Package events gives external observers (a dashboard, a metrics
// exporter - both explicitly out of scope to build, per spec.md §1) a
// typed contract to consume, per the DESIGN NOTES' instruction to
// replace ad-hoc named listeners with one channel per event kind
// rather than a stringly-typed bus.
package events

import "time"

// ClientStatusLevel is the self-liveness verdict from spec.md §4.3.
type ClientStatusLevel int

const (
	StatusAlive ClientStatusLevel = iota
	StatusDegraded
)

func (l ClientStatusLevel) String() string {
	if l == StatusAlive {
		return "ALIVE"
	}
	return "DEGRADED"
}

// ClientStatus is published by the self-liveness check every 5s.
type ClientStatus struct {
	Level     ClientStatusLevel
	Reason    string
	Timestamp time.Time
}

// IncomingCall is published when a new dialog is created from an INVITE.
type IncomingCall struct {
	CallID    string
	From      string
	To        string
	Timestamp time.Time
}

// CallEndReason explains why CallEnded fired.
type CallEndReason int

const (
	EndLocalBYE CallEndReason = iota
	EndRemoteBYE
	EndCancel
	EndTimeout
	EndError
)

func (r CallEndReason) String() string {
	switch r {
	case EndLocalBYE:
		return "local_bye"
	case EndRemoteBYE:
		return "remote_bye"
	case EndCancel:
		return "cancel"
	case EndTimeout:
		return "timeout"
	case EndError:
		return "error"
	default:
		return "unknown"
	}
}

// CallEnded is published once a session reaches TERMINATED.
type CallEnded struct {
	CallID    string
	Reason    CallEndReason
	Duration  time.Duration
	Timestamp time.Time
}

// Bus fans status/lifecycle events out to whatever external collaborator
// is listening, without blocking the publisher: each channel is buffered
// and a publish to a full channel drops the event being published rather
// than stall the call path. One channel per event kind, never a stringly-typed bus.
type Bus struct {
	incomingCall chan IncomingCall
	callEnded    chan CallEnded
	clientStatus chan ClientStatus
}

// NewBus creates a Bus with reasonably sized buffers. capacity bounds
// each channel independently.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 32
	}
	return &Bus{
		incomingCall: make(chan IncomingCall, capacity),
		callEnded:    make(chan CallEnded, capacity),
		clientStatus: make(chan ClientStatus, capacity),
	}
}

// IncomingCalls returns the read-only subscription channel.
func (b *Bus) IncomingCalls() <-chan IncomingCall { return b.incomingCall }

// CallsEnded returns the read-only subscription channel.
func (b *Bus) CallsEnded() <-chan CallEnded { return b.callEnded }

// ClientStatuses returns the read-only subscription channel.
func (b *Bus) ClientStatuses() <-chan ClientStatus { return b.clientStatus }

// PublishIncomingCall is non-blocking: if no one is listening and the
// buffer is full, the event is dropped rather than stalling call setup.
func (b *Bus) PublishIncomingCall(e IncomingCall) {
	select {
	case b.incomingCall <- e:
	default:
	}
}

// PublishCallEnded is non-blocking, see PublishIncomingCall.
func (b *Bus) PublishCallEnded(e CallEnded) {
	select {
	case b.callEnded <- e:
	default:
	}
}

// PublishClientStatus is non-blocking, see PublishIncomingCall.
func (b *Bus) PublishClientStatus(e ClientStatus) {
	select {
	case b.clientStatus <- e:
	default:
	}
}
