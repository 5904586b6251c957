// Package keepalive implements the NAT keep-alive and self-liveness
// subsystem from spec.md §4.3: a 30s CRLF-CRLF datagram, a 5min
// OPTIONS ping, a 5s self-liveness check, and socket-error resilience
// with rebind. Grounded on the teacher's app.go socket/server wiring;
// the liveness policy itself has no teacher analogue (the teacher was
// never the registering party) and is built directly from spec.md.
package keepalive

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/sip-ai-bridge/internal/config"
	"github.com/sebas/sip-ai-bridge/internal/events"
	"github.com/sebas/sip-ai-bridge/internal/registrar"
	"github.com/sebas/sip-ai-bridge/internal/transaction"
)

const (
	natKeepaliveInterval = 30 * time.Second
	optionsPingInterval  = 5 * time.Minute
	livenessInterval     = 5 * time.Second
	registeringStuckMax  = 30 * time.Second
	rebindErrorThreshold = 3
	rebindSettleDelay    = 2 * time.Second
)

// registrationState is satisfied by *registrar.Registrar; narrowed to
// an interface so the liveness policy can be tested without a live
// SIP client.
type registrationState interface {
	State() registrar.State
}

// Monitor runs the three periodic checks spec.md §4.3 names, plus
// socket resilience, for one registration.
type Monitor struct {
	cfg    *config.Config
	client *sipgo.Client
	reg    registrationState
	bus    *events.Bus

	conn       net.PacketConn
	serverAddr net.Addr

	// Rebind recreates the keepalive socket; supplied by internal/app,
	// which owns the process wiring. ReRegister is called once the settle delay after a rebind elapses.
	Rebind     func() error
	ReRegister func()

	consecutiveErrors atomic.Int32
	lastSuccess       atomic.Int64 // unix seconds
	registeringSince  atomic.Int64
}

// New creates a Monitor bound to conn (the dedicated keepalive UDP socket) addressed
// at serverAddr (the upstream PBX).
func New(cfg *config.Config, client *sipgo.Client, reg registrationState, bus *events.Bus, conn net.PacketConn, serverAddr net.Addr) *Monitor {
	return &Monitor{cfg: cfg, client: client, reg: reg, bus: bus, conn: conn, serverAddr: serverAddr}
}

// SetConn swaps the socket used for NAT keepalive datagrams. Called by
// Rebind after it has opened a replacement; safe because both Rebind
// and every reader of conn run from the Run goroutine.
func (m *Monitor) SetConn(conn net.PacketConn, serverAddr net.Addr) {
	m.conn = conn
	if serverAddr != nil {
		m.serverAddr = serverAddr
	}
}

// Run drives all periodic checks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	natTicker := time.NewTicker(natKeepaliveInterval)
	optionsTicker := time.NewTicker(optionsPingInterval)
	livenessTicker := time.NewTicker(livenessInterval)
	defer natTicker.Stop()
	defer optionsTicker.Stop()
	defer livenessTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-natTicker.C:
			m.sendNATKeepalive()
		case <-optionsTicker.C:
			if m.reg.State() == registrar.StateRegistered {
				m.sendOptionsPing(ctx)
			}
		case <-livenessTicker.C:
			m.checkLiveness()
		}
	}
}

// sendNATKeepalive transmits the RFC 5626 §3.5.1 CRLF-CRLF datagram.
// A write failure counts toward the rebind threshold.
func (m *Monitor) sendNATKeepalive() {
	_, err := m.conn.WriteTo([]byte("\r\n\r\n"), m.serverAddr)
	m.noteSocketResult(err)
}

// sendOptionsPing verifies end-to-end reachability with an OPTIONS
// request, per spec.md §4.3.
func (m *Monitor) sendOptionsPing(ctx context.Context) {
	serverURI := sip.Uri{Scheme: "sip", Host: m.cfg.SIPServer}
	req := sip.NewRequest(sip.OPTIONS, serverURI)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, _, err := transaction.Do(pingCtx, m.client, req)
	if err != nil {
		slog.Warn("keepalive: OPTIONS ping failed", "error", err)
		m.noteSocketResult(err)
		return
	}
	slog.Debug("keepalive: OPTIONS ping", "status", res.StatusCode)
	m.noteSocketResult(nil)
}

// RecordRegistrationSuccess is called by the registrar on every
// successful REGISTER, feeding the self-liveness window.
func (m *Monitor) RecordRegistrationSuccess() {
	m.lastSuccess.Store(time.Now().Unix())
	m.consecutiveErrors.Store(0)
}

// RecordRegisteringStarted is called when a REGISTER attempt begins,
// so checkLiveness can detect a registration stuck for >30s.
func (m *Monitor) RecordRegisteringStarted() {
	m.registeringSince.Store(time.Now().Unix())
}

// checkLiveness publishes the self-liveness verdict: ALIVE iff
// state=REGISTERED with (now - last-success) < SessionExpiresSeconds,
// or state=REGISTERING and not stuck >30s. The last-success age is
// compared with the configured SessionExpiresSeconds (the Expires value
// each REGISTER requests), not with the expires the registrar granted,
// and the keepalive socket's state is not part of the check.
func (m *Monitor) checkLiveness() {
	state := m.reg.State()
	now := time.Now().Unix()

	alive := true
	reason := ""

	if state == registrar.StateRegistering {
		since := m.registeringSince.Load()
		if since != 0 && now-since > int64(registeringStuckMax.Seconds()) {
			alive = false
			reason = "registration stuck for over 30s"
		}
	}
	if state != registrar.StateRegistered && state != registrar.StateRegistering {
		alive = false
		reason = fmt.Sprintf("registration state is %s", state)
	}
	if state == registrar.StateRegistered {
		last := m.lastSuccess.Load()
		if last == 0 || now-last >= int64(m.cfg.SessionExpiresSeconds) {
			alive = false
			reason = "last successful registration older than granted expires"
		}
	}

	level := events.StatusAlive
	if !alive {
		level = events.StatusDegraded
	}
	m.bus.PublishClientStatus(events.ClientStatus{Level: level, Reason: reason, Timestamp: time.Now()})

	if !alive {
		slog.Warn("keepalive: self-liveness check reports DEGRADED", "reason", reason)
	}
}

// noteSocketResult tracks consecutive socket errors and triggers
// rebind-and-resettle once the threshold is reached, per spec.md
// §4.3's socket resilience rule.
func (m *Monitor) noteSocketResult(err error) {
	if err == nil {
		m.consecutiveErrors.Store(0)
		return
	}
	n := m.consecutiveErrors.Add(1)
	if n < rebindErrorThreshold {
		return
	}
	slog.Error("keepalive: socket error threshold reached, rebinding", "errors", n)
	m.consecutiveErrors.Store(0)
	if m.Rebind != nil {
		if err := m.Rebind(); err != nil {
			slog.Error("keepalive: rebind failed", "error", err)
			return
		}
	}
	time.AfterFunc(rebindSettleDelay, func() {
		slog.Info("keepalive: settle delay elapsed, retriggering registration")
		if m.ReRegister != nil {
			m.ReRegister()
		}
	})
}
