// Package registrar implements the client-side (UAC) SIP registration
// engine from spec.md §4.3: REGISTER with digest auth, refresh at 50%
// of granted expires, and indefinite 5s-backoff retry on failure.
// Grounded on the teacher's app.go wiring (sipgo.NewUA/Server/Client)
// and, for the digest exchange, livekit-sip's outbound.go challenge/
// credential loop - the teacher itself only ever accepted REGISTER
// (UAS role), so the request-construction side is adapted from the
// pack's outbound examples rather than the teacher directly.
package registrar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/sebas/sip-ai-bridge/internal/config"
	"github.com/sebas/sip-ai-bridge/internal/events"
	"github.com/sebas/sip-ai-bridge/internal/ids"
	"github.com/sebas/sip-ai-bridge/internal/timers"
	"github.com/sebas/sip-ai-bridge/internal/transaction"
)

// State is the registration lifecycle state from spec.md §4.3.
type State int

const (
	StateUnregistered State = iota
	StateRegistering
	StateRegistered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRegistering:
		return "REGISTERING"
	case StateRegistered:
		return "REGISTERED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNREGISTERED"
	}
}

const retryBackoff = 5 * time.Second

// Registrar owns the single outbound registration for this process'
// one trunk extension. It is not re-entrant across multiple AORs:
// spec.md scopes this to one inbound trunk.
type Registrar struct {
	cfg    *config.Config
	client *sipgo.Client
	bus    *events.Bus
	timers *timers.Registry

	contact sip.ContactHeader
	aor     sip.Uri

	// OnRegistering/OnRegistered let the keepalive Monitor track the
	// registration lifecycle without the registrar depending on it.
	OnRegistering func()
	OnRegistered  func()

	forceCh chan struct{}

	mu      sync.Mutex
	state   State
	callID  string
	cseq    uint32
	lastErr error
}

// New creates a Registrar. contact is this process' advertised Contact
// (public IP / NAT-mapped port); aor is the registrar's address of
// record URI built from cfg.SIPServer and cfg.AuthorizationUser.
func New(cfg *config.Config, client *sipgo.Client, bus *events.Bus, contact sip.ContactHeader, aor sip.Uri) *Registrar {
	return &Registrar{
		cfg:     cfg,
		client:  client,
		bus:     bus,
		timers:  timers.NewRegistry(),
		forceCh: make(chan struct{}, 1),
		contact: contact,
		aor:     aor,
		callID:  ids.NewCallID(cfg.PublicIP),
		cseq:    1,
	}
}

// State returns the current registration state.
func (r *Registrar) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run drives the registration loop until ctx is cancelled: register,
// schedule a proactive refresh at 50% of the granted expires, and on
// any failure back off 5s and retry indefinitely, per spec.md §4.3
// step 3/5.
func (r *Registrar) Run(ctx context.Context) {
	defer r.timers.Close()
	for {
		expires, err := r.registerOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.setState(StateFailed, err)
			r.bus.PublishClientStatus(events.ClientStatus{Level: events.StatusDegraded, Reason: err.Error(), Timestamp: time.Now()})
			select {
			case <-time.After(retryBackoff):
				continue
			case <-r.forceCh:
				continue
			case <-ctx.Done():
				return
			}
		}

		r.setState(StateRegistered, nil)
		if r.OnRegistered != nil {
			r.OnRegistered()
		}
		delay := config.RegistrationRefreshDelay(expires)
		select {
		case <-time.After(delay):
			continue
		case <-r.forceCh:
			continue
		case <-ctx.Done():
			return
		}
	}
}

// TriggerReRegister wakes Run early to attempt a fresh REGISTER,
// independent of its normal refresh/backoff schedule. Used by the
// keepalive Monitor after a socket rebind settles.
func (r *Registrar) TriggerReRegister() {
	select {
	case r.forceCh <- struct{}{}:
	default:
	}
}

func (r *Registrar) setState(s State, err error) {
	r.mu.Lock()
	r.state = s
	r.lastErr = err
	r.mu.Unlock()
}

// registerOnce performs one full REGISTER exchange including the
// digest challenge/response round trip, returning the granted
// expires on success.
func (r *Registrar) registerOnce(ctx context.Context) (int, error) {
	r.setState(StateRegistering, nil)
	if r.OnRegistering != nil {
		r.OnRegistering()
	}

	req, err := r.buildRegister(nil)
	if err != nil {
		return 0, err
	}
	res, _, err := transaction.Do(ctx, r.client, req)
	if err != nil {
		return 0, err
	}

	switch {
	case res.StatusCode == 200:
		return grantedExpires(res, r.cfg.SessionExpiresSeconds), nil
	case res.StatusCode == 401 || res.StatusCode == 407:
		return r.registerWithAuth(ctx, req, res)
	case res.StatusCode == 403:
		return 0, fmt.Errorf("registrar: forbidden (403)")
	default:
		return 0, fmt.Errorf("registrar: REGISTER failed: %d %s", res.StatusCode, res.Reason)
	}
}

// registerWithAuth resends the REGISTER with a computed digest
// response after a 401/407. Per spec.md §9's open question, it also
// regenerates the Call-ID and increments CSeq for the authenticated
// retransmission, matching widely observed client behavior
// (MicroSIP-style) even though this deviates from strict RFC 3261.
func (r *Registrar) registerWithAuth(ctx context.Context, challenged *sip.Request, challengeRes *sip.Response) (int, error) {
	headerName := "WWW-Authenticate"
	h := challengeRes.GetHeader(headerName)
	if h == nil {
		headerName = "Proxy-Authenticate"
		h = challengeRes.GetHeader(headerName)
	}
	if h == nil {
		return 0, fmt.Errorf("registrar: %d response missing WWW-Authenticate", challengeRes.StatusCode)
	}

	challenge, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return 0, fmt.Errorf("registrar: parse challenge: %w", err)
	}

	r.mu.Lock()
	r.callID = ids.NewCallID(r.cfg.PublicIP)
	r.cseq++
	r.mu.Unlock()

	authReq, err := r.buildRegister(nil)
	if err != nil {
		return 0, err
	}

	cred, err := digest.Digest(challenge, digest.Options{
		Method:   sip.REGISTER.String(),
		URI:      r.aor.String(),
		Username: r.cfg.AuthorizationUser,
		Password: r.cfg.Password,
	})
	if err != nil {
		return 0, fmt.Errorf("registrar: compute digest: %w", err)
	}
	authReq.AppendHeader(sip.NewHeader(headerAuthName(headerName), cred.String()))

	res, _, err := transaction.Do(ctx, r.client, authReq)
	if err != nil {
		return 0, err
	}
	if res.StatusCode != 200 {
		return 0, fmt.Errorf("registrar: authenticated REGISTER failed: %d %s", res.StatusCode, res.Reason)
	}
	return grantedExpires(res, r.cfg.SessionExpiresSeconds), nil
}

func headerAuthName(challengeHeader string) string {
	if challengeHeader == "Proxy-Authenticate" {
		return "Proxy-Authorization"
	}
	return "Authorization"
}

// buildRegister constructs a REGISTER request against the current
// Call-ID/CSeq. extraHeaders is reserved for future caller-supplied
// headers (none needed today).
func (r *Registrar) buildRegister(extraHeaders []sip.Header) (*sip.Request, error) {
	r.mu.Lock()
	callID, cseq := r.callID, r.cseq
	r.mu.Unlock()

	req := sip.NewRequest(sip.REGISTER, r.aor)
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            r.cfg.PublicIP,
		Port:            r.cfg.ClientPort,
		Params:          sip.NewParams(),
	})
	req.Via().Params.Add("branch", ids.NewBranch())

	fromURI := r.aor
	req.AppendHeader(&sip.FromHeader{Address: fromURI, Params: sip.NewParams()})
	req.From().Params.Add("tag", ids.NewTag())
	req.AppendHeader(&sip.ToHeader{Address: r.aor})
	req.AppendHeader(&sip.ContactHeader{Address: r.contact.Address})
	req.AppendHeader(sip.NewHeader("Call-ID", callID))
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.REGISTER})
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", r.cfg.SessionExpiresSeconds)))
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.SetBody(nil)

	for _, h := range extraHeaders {
		req.AppendHeader(h)
	}

	slog.Debug("registrar: built REGISTER", "call_id", callID, "cseq", cseq)
	return req, nil
}

func grantedExpires(res *sip.Response, fallback int) int {
	h := res.GetHeader("Expires")
	if h == nil {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(h.Value(), "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}
