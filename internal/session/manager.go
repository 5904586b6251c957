package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/sip-ai-bridge/internal/config"
	"github.com/sebas/sip-ai-bridge/internal/dialog"
	"github.com/sebas/sip-ai-bridge/internal/events"
	"github.com/sebas/sip-ai-bridge/internal/sipmsg"
	"github.com/sebas/sip-ai-bridge/internal/store"
)

// activeSessionTTL/terminatedSessionTTL bound how long a Call-ID stays
// in the registry: long enough while the call runs, short enough
// after teardown to absorb BYE/ACK retransmissions without leaking.
// Grounded on the teacher's dialog.ActiveDialogTTL pattern.
const (
	activeSessionTTL     = 4 * time.Hour
	terminatedSessionTTL = 32 * time.Second
	cleanupInterval      = 30 * time.Second
)

// Manager is the Call-ID-keyed session registry: it owns CreateFromInvite
// dedup, routes subsequent in-dialog requests to the right Session, and
// enforces MaxConcurrentCalls. Adapted from the teacher's
// signaling/dialog.Manager, generalized from *Dialog to *Session.
type Manager struct {
	cfg       *config.Config
	sipClient *sipgo.Client
	bus       *events.Bus
	ports     *portAllocator
	localHost string

	sessions *store.TTLStore[string, *Session]

	mu     sync.Mutex
	active int
}

// NewManager creates a Manager bound to one SIP client and one RTP
// port range.
func NewManager(cfg *config.Config, sipClient *sipgo.Client, bus *events.Bus, localHost string) *Manager {
	return &Manager{
		cfg:       cfg,
		sipClient: sipClient,
		bus:       bus,
		ports:     newPortAllocator(cfg.RTPPort, cfg.RTPPortRangeStart, cfg.RTPPortRangeEnd),
		localHost: localHost,
		sessions:  store.NewTTLStore[string, *Session](cleanupInterval),
	}
}

func callID(req *sip.Request) (string, bool) {
	hdr := req.CallID()
	if hdr == nil {
		return "", false
	}
	return hdr.Value(), true
}

// HandleInvite routes an incoming INVITE: a malformed request (missing
// Via/From/To/Call-ID/CSeq) is discarded silently per spec.md §4.2,
// duplicate/retransmitted INVITEs for an in-flight call are
// re-acknowledged rather than double-processed, MaxConcurrentCalls is
// enforced with a 503, and otherwise a fresh Session is created and
// started. Grounded on the teacher's Manager.CreateFromInvite.
func (m *Manager) HandleInvite(req *sip.Request, tx sip.ServerTransaction) {
	if !sipmsg.HasRequiredHeaders(req) {
		slog.Debug("session: discarding malformed INVITE, missing required header")
		return
	}
	if declared, actual, mismatch := sipmsg.ContentLengthMismatch(req); mismatch {
		slog.Warn("session: Content-Length mismatch on INVITE", "declared", declared, "actual", actual)
	}

	id, ok := callID(req)
	if !ok {
		slog.Debug("session: discarding malformed INVITE, missing Call-ID")
		return
	}

	if existing, ok := m.sessions.Get(id); ok {
		slog.Warn("session: duplicate INVITE for in-flight call", "call_id", id)
		existing.Deliver(req, tx)
		return
	}

	m.mu.Lock()
	if m.cfg.MaxConcurrentCalls > 0 && m.active >= m.cfg.MaxConcurrentCalls {
		m.mu.Unlock()
		slog.Warn("session: rejecting INVITE, at capacity", "call_id", id, "active", m.active)
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(503), "Service Unavailable", nil))
		return
	}
	m.active++
	m.mu.Unlock()

	s := New(m.cfg, m.sipClient, m.bus, m.ports, m.localHost, req, tx, req.Source(), m.onSessionTerminated)
	m.sessions.Set(id, s, activeSessionTTL)
	s.Start(req, tx)
}

// HandleInDialog routes ACK/BYE/CANCEL/re-INVITE to the Session that
// owns the Call-ID. A malformed request (missing Via/From/To/Call-ID/
// CSeq) is discarded silently, per spec.md §4.2. A well-formed request
// with no matching session gets 481 Call/Transaction Does Not Exist,
// per spec.md §5's backpressure rule; ACK is the one exception (a UAC
// never retries a dropped ACK, and a stray ACK carries no useful 481
// recipient per RFC 3261).
func (m *Manager) HandleInDialog(req *sip.Request, tx sip.ServerTransaction) {
	if !sipmsg.HasRequiredHeaders(req) {
		slog.Debug("session: discarding malformed in-dialog request, missing required header", "method", req.Method)
		return
	}
	if declared, actual, mismatch := sipmsg.ContentLengthMismatch(req); mismatch {
		slog.Warn("session: Content-Length mismatch on in-dialog request", "method", req.Method, "declared", declared, "actual", actual)
	}

	id, ok := callID(req)
	if !ok {
		slog.Debug("session: discarding malformed in-dialog request, missing Call-ID", "method", req.Method)
		return
	}

	s, ok := m.sessions.Get(id)
	if !ok {
		slog.Debug("session: in-dialog request for unknown call", "call_id", id, "method", req.Method)
		if req.Method != sip.ACK {
			_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(481), "Call/Transaction Does Not Exist", nil))
		}
		return
	}
	s.Deliver(req, tx)
}

// HandleOptions answers OPTIONS with a capability 200 OK, per spec.md
// §4.3: it never creates or touches a session.
func (m *Manager) HandleOptions(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	resp.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE, CANCEL, OPTIONS"))
	resp.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	_ = tx.Respond(resp)
}

// HandleNotify acknowledges an in-dialog NOTIFY (e.g. an upstream
// keepalive probe) with a bare 200 OK, per spec.md §4.3.
func (m *Manager) HandleNotify(req *sip.Request, tx sip.ServerTransaction) {
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
}

// HandleUnknownMethod answers any method this process doesn't
// implement with 405, listing what it does support.
func (m *Manager) HandleUnknownMethod(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, sip.StatusMethodNotAllowed, "Method Not Allowed", nil)
	resp.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE, CANCEL, OPTIONS"))
	_ = tx.Respond(resp)
}

// onSessionTerminated is the Session.onTerminated callback. The entry
// is kept, not deleted, for terminatedSessionTTL: a retransmitted BYE
// or ACK for the just-ended call still finds a session to deliver to
// (its closed mailbox drops the event) instead of drawing a spurious
// 481.
func (m *Manager) onSessionTerminated(id string) {
	m.mu.Lock()
	if m.active > 0 {
		m.active--
	}
	m.mu.Unlock()
	if s, ok := m.sessions.Get(id); ok {
		m.sessions.Set(id, s, terminatedSessionTTL)
	}
}

// ActiveCalls returns the current in-flight call count, for health/status reporting.
func (m *Manager) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Shutdown tears every live session down, giving each up to drain
// before returning, per spec.md §5's graceful-shutdown sequence.
func (m *Manager) Shutdown(drain time.Duration) {
	ids := m.sessions.All()
	if len(ids) == 0 {
		return
	}
	slog.Info("session: shutting down, tearing down active calls", "count", len(ids))
	for _, s := range ids {
		if s == nil {
			continue
		}
		go s.teardown(dialog.ReasonError)
	}
	time.Sleep(drain)
	m.sessions.Close()
}
