// Package session implements the per-call Session: the object that
// owns one Dialog, its Media Context, its Call Activity Tracker, and
// its own AI realtime connection, and drains a single serial mailbox
// of SIP/RTP/AI/timer events for the lifetime of the call, per
// spec.md §3/§5.
package session

import (
	"context"
	"log/slog"
	"net"
	"regexp"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pion/rtp"

	"github.com/sebas/sip-ai-bridge/internal/config"
	"github.com/sebas/sip-ai-bridge/internal/dialog"
	"github.com/sebas/sip-ai-bridge/internal/events"
	"github.com/sebas/sip-ai-bridge/internal/ids"
	"github.com/sebas/sip-ai-bridge/internal/media"
	"github.com/sebas/sip-ai-bridge/internal/realtime"
	"github.com/sebas/sip-ai-bridge/internal/sipmsg"
	"github.com/sebas/sip-ai-bridge/internal/timers"
)

// Auto-answer / media-readiness / BYE-disposition timings, all from
// spec.md §4.4.
const (
	tryingDelay        = 100 * time.Millisecond
	ackWaitTimeout     = 32 * time.Second
	mediaReadyTimeout  = 2 * time.Second
	sessionRefreshSlop = 30 * time.Second
	idleBeforeTeardown = 30 * time.Second
	confirmedGrace     = 3 * time.Second

	timerACK            = "ack-wait"
	timerMediaReady     = "media-ready"
	timerSessionRefresh = "session-refresh"
)

// byeLegitimateReason matches the Reason header values spec.md §4.4
// treats as an unambiguous caller-initiated hangup, independent of
// source address. No teacher or pack example parses this header; it
// is built directly from spec.md's wording.
var byeLegitimateReason = regexp.MustCompile(`(?i)user|normal|hangup`)

// Session drains its own mailbox from a single goroutine (run), so
// every field below is touched from that goroutine only unless noted;
// no locking is needed inside the handlers themselves.
type Session struct {
	cfg       *config.Config
	sipClient *sipgo.Client
	bus       *events.Bus
	ports     *portAllocator
	localHost string

	dlg      *dialog.Dialog
	activity *ActivityTracker
	timers   *timers.Registry
	mb       *mailbox

	ai       *realtime.Client
	aiCancel context.CancelFunc

	rtpConn net.PacketConn
	rtpPort int
	pacer   *media.Pacer
	recv    *media.Receiver
	codec   media.Codec

	terminated bool

	onTerminated func(callID string)
}

// New creates a Session for an inbound INVITE. Call Start to begin
// handling it.
func New(cfg *config.Config, sipClient *sipgo.Client, bus *events.Bus, ports *portAllocator, localHost string, req *sip.Request, tx sip.ServerTransaction, remoteSignalingAddr string, onTerminated func(callID string)) *Session {
	return &Session{
		cfg:          cfg,
		sipClient:    sipClient,
		bus:          bus,
		ports:        ports,
		localHost:    localHost,
		dlg:          dialog.NewDialog(req, tx, remoteSignalingAddr),
		activity:     NewActivityTracker(),
		timers:       timers.NewRegistry(),
		mb:           newMailbox(),
		onTerminated: onTerminated,
	}
}

// CallID returns the owning dialog's Call-ID, the Manager's registry key.
func (s *Session) CallID() string { return s.dlg.CallID }

// Deliver enqueues a mid-dialog SIP request (ACK/BYE/CANCEL/re-INVITE)
// for serial processing by the event loop.
func (s *Session) Deliver(req *sip.Request, tx sip.ServerTransaction) {
	s.mb.send(event{kind: eventSIPRequest, req: req, tx: tx})
}

// Start runs the session to completion in its own goroutine.
func (s *Session) Start(req *sip.Request, tx sip.ServerTransaction) {
	go s.run(req, tx)
}

func (s *Session) run(req *sip.Request, tx sip.ServerTransaction) {
	s.handleInitialInvite(req, tx)
	for !s.terminated {
		select {
		case e := <-s.mb.recv():
			s.handleEvent(e)
		case <-s.dlg.Context().Done():
			return
		}
	}
}

// handleInitialInvite runs spec.md §4.4 steps 1-7: 100 Trying, a fixed
// settle delay, 180 Ringing carrying the tag that will also label the
// final response, SDP offer parsing and codec negotiation, RTP port
// allocation, then the 200 OK once any auto-answer delay has elapsed.
// Grounded on the teacher's Manager.SendTrying/SendProgress/SendOK,
// adapted away from sipgo's DialogUA/Session since Dialog here builds
// its own requests rather than delegating to a sipgo session object.
func (s *Session) handleInitialInvite(req *sip.Request, tx sip.ServerTransaction) {
	log := slog.With("call_id", s.dlg.CallID)

	if err := s.dlg.TransitionTo(dialog.StateProceeding); err != nil {
		log.Warn("session: invite transition", "error", err)
	}

	trying := sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		log.Error("session: failed to send 100 Trying", "error", err)
		s.teardown(dialog.ReasonError)
		return
	}

	if from := req.From(); from != nil && req.To() != nil {
		s.bus.PublishIncomingCall(events.IncomingCall{
			CallID:    s.dlg.CallID,
			From:      from.Address.String(),
			To:        req.To().Address.String(),
			Timestamp: time.Now(),
		})
	}

	time.Sleep(tryingDelay)

	s.dlg.SetLocalTag(ids.NewTag())
	ringing := sip.NewResponseFromRequest(req, sip.StatusRinging, "Ringing", nil)
	ringing.To().Params.Add("tag", s.dlg.LocalTag)
	if err := tx.Respond(ringing); err != nil {
		log.Error("session: failed to send 180 Ringing", "error", err)
		s.teardown(dialog.ReasonError)
		return
	}

	offer, err := sipmsg.ParseOffer(req.Body())
	if err != nil {
		log.Warn("session: failed to parse SDP offer", "error", err)
		s.rejectInvite(req, tx, sip.StatusCode(488), "Not Acceptable Here")
		return
	}

	codecPT, ok := sipmsg.NegotiateCodec(offer.PayloadTypes)
	if !ok {
		log.Warn("session: offer carried no usable media formats")
		s.rejectInvite(req, tx, sip.StatusCode(488), "Not Acceptable Here")
		return
	}
	codec, err := media.CodecByPayloadType(codecPT)
	if err != nil {
		log.Warn("session: negotiated codec unsupported", "pt", codecPT, "error", err)
		s.rejectInvite(req, tx, sip.StatusCode(488), "Not Acceptable Here")
		return
	}
	s.codec = codec

	conn, port, err := s.ports.allocate(s.cfg.BindAddr)
	if err != nil {
		log.Error("session: failed to allocate RTP port", "error", err)
		s.rejectInvite(req, tx, sip.StatusCode(503), "Service Unavailable")
		return
	}
	s.rtpConn = conn
	s.rtpPort = port

	answer, err := sipmsg.BuildAnswer(s.localHost, port, codecPT)
	if err != nil {
		log.Error("session: failed to build SDP answer", "error", err)
		s.ports.release(port)
		s.rejectInvite(req, tx, sip.StatusCode(503), "Service Unavailable")
		return
	}

	if delay := autoAnswerDelay(req); delay > 0 {
		time.Sleep(delay)
	}

	ok200 := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	ok200.To().Params.Add("tag", s.dlg.LocalTag)
	ct := sip.ContentTypeHeader("application/sdp")
	ok200.AppendHeader(&ct)
	if err := tx.Respond(ok200); err != nil {
		log.Error("session: failed to send 200 OK", "error", err)
		s.ports.release(port)
		s.teardown(dialog.ReasonError)
		return
	}
	s.dlg.SetInviteResponse(ok200)
	s.dlg.SetMedia(dialog.MediaContext{
		Codec:          codecPT,
		LocalRTPPort:   port,
		RemoteHost:     offer.RemoteHost,
		RemoteRTPPort:  offer.RemotePort,
		SSRC:           ids.GenerateSSRC(),
		SeqStart:       ids.GenerateSequenceStart(),
		TimestampStart: ids.GenerateTimestampStart(),
	})

	s.timers.Set(timerACK, ackWaitTimeout, func() {
		s.mb.send(event{kind: eventTimer, timerName: timerACK})
	})
}

// rejectInvite sends a final non-2xx response and tears the dialog
// down without ever reaching CONFIRMED.
func (s *Session) rejectInvite(req *sip.Request, tx sip.ServerTransaction, code sip.StatusCode, reason string) {
	resp := sip.NewResponseFromRequest(req, code, reason, nil)
	if s.dlg.LocalTag != "" {
		resp.To().Params.Add("tag", s.dlg.LocalTag)
	}
	_ = tx.Respond(resp)
	s.teardown(dialog.ReasonError)
}

// autoAnswerDelay reports how long to wait before answering, per
// spec.md §4.4 step 4: Answer-Mode/Priv-Answer-Mode: Auto gets a short
// 100ms settle delay; anything else (absent header, or an explicit
// Manual) gets the full 1s delay a human-paced answer would take.
func autoAnswerDelay(req *sip.Request) time.Duration {
	if sipmsg.ParseAnswerMode(req) == sipmsg.AnswerModeAuto {
		return 100 * time.Millisecond
	}
	return 1 * time.Second
}

func (s *Session) handleEvent(e event) {
	switch e.kind {
	case eventSIPRequest:
		s.handleSIPRequest(e.req, e.tx)
	case eventRTPPacket:
		s.handleRTPPacket(e.rtpPacket)
	case eventAIMessage:
		s.handleAIMessage(e)
	case eventTimer:
		s.handleTimer(e.timerName)
	}
}

func (s *Session) handleSIPRequest(req *sip.Request, tx sip.ServerTransaction) {
	switch req.Method {
	case sip.ACK:
		s.handleACK(req)
	case sip.BYE:
		s.handleBYE(req, tx)
	case sip.CANCEL:
		s.handleCANCEL(req, tx)
	case sip.INVITE:
		s.handleReINVITE(req, tx)
	default:
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusMethodNotAllowed, "Method Not Allowed", nil))
	}
}

// handleACK confirms the dialog (spec.md §4.4 step 7), arms the
// media-readiness path, and opens the RTP receive/send loops.
func (s *Session) handleACK(req *sip.Request) {
	log := slog.With("call_id", s.dlg.CallID)

	state := s.dlg.GetState()
	if state == dialog.StateConfirmed {
		log.Debug("session: ACK retransmission ignored")
		return
	}
	if err := s.dlg.TransitionTo(dialog.StateConfirmed); err != nil {
		log.Warn("session: ACK in unexpected state", "state", state, "error", err)
		return
	}
	s.timers.Cancel(timerACK)
	s.activity.SetConfirmedAt(time.Now())

	mc := s.dlg.GetMedia()
	remote := &net.UDPAddr{IP: net.ParseIP(mc.RemoteHost), Port: mc.RemoteRTPPort}
	s.pacer = media.NewPacer(s.rtpConn, remote, s.codec, mc.SSRC, mc.SeqStart, mc.TimestampStart)
	s.recv = media.NewReceiver(s.rtpConn)

	go s.pacer.Run(s.dlg.Context().Done())
	go s.rtpReadLoop()

	if s.cfg.RequireRTPBeforeAI {
		log.Debug("session: waiting for first RTP packet before starting AI")
	} else {
		s.timers.Set(timerMediaReady, mediaReadyTimeout, func() {
			s.mb.send(event{kind: eventTimer, timerName: timerMediaReady})
		})
	}

	s.scheduleSessionRefresh()
}

// scheduleSessionRefresh arms the RFC 4028 re-INVITE refresh at
// expires-30s, per spec.md §4.4.
func (s *Session) scheduleSessionRefresh() {
	expires := s.cfg.SessionExpiresSeconds
	if expires <= 0 {
		return
	}
	delay := time.Duration(expires)*time.Second - sessionRefreshSlop
	if delay <= 0 {
		delay = time.Duration(expires) * time.Second / 2
	}
	s.timers.Set(timerSessionRefresh, delay, func() {
		s.mb.send(event{kind: eventTimer, timerName: timerSessionRefresh})
	})
}

// rtpReadLoop feeds inbound RTP packets into the mailbox, one at a
// time, so decoding and AI forwarding happen on the session's serial
// goroutine rather than racing with everything else touching s.
func (s *Session) rtpReadLoop() {
	for {
		pkt, err := s.recv.ReadRTP()
		if err != nil {
			return
		}
		s.mb.send(event{kind: eventRTPPacket, rtpPacket: pkt})
	}
}

func (s *Session) handleRTPPacket(pkt *rtp.Packet) {
	if pkt == nil {
		return
	}
	s.activity.TouchAudio()

	if media.IsDTMFPayloadType(pkt.PayloadType) {
		// DTMF-to-AI forwarding is out of scope; recognize and drop
		// rather than mis-decode it as audio.
		return
	}

	switch s.dlg.GetState() {
	case dialog.StateConfirmed:
		if err := s.dlg.TransitionTo(dialog.StateMediaReady); err != nil {
			slog.Warn("session: media-ready transition", "call_id", s.dlg.CallID, "error", err)
		} else {
			s.timers.Cancel(timerMediaReady)
			s.openAISession()
		}
	case dialog.StateMediaReady, dialog.StateAIActive:
	default:
		return
	}

	if s.ai == nil {
		return
	}
	pcm, err := media.Decode(s.codec, pkt.Payload)
	if err != nil {
		return
	}
	ulaw := media.EncodeUlaw(pcm)
	s.ai.SendAudio(ulaw)
}

// openAISession wires the realtime client's callbacks to push events
// back into this session's own mailbox, so audio/speech/function-call
// notifications - which fire from the client's own goroutines - are
// still processed serially alongside SIP and RTP events, per spec.md
// §5's "session state transitions are processed serially" invariant.
func (s *Session) openAISession() {
	if s.ai != nil {
		return
	}
	c := realtime.New(s.cfg)
	c.OnSessionUpdated = func() { s.mb.send(event{kind: eventAIMessage, aiKind: aiSessionUpdated}) }
	c.OnSpeechStarted = func() { s.mb.send(event{kind: eventAIMessage, aiKind: aiSpeechStarted}) }
	c.OnSpeechStopped = func() { s.mb.send(event{kind: eventAIMessage, aiKind: aiSpeechStopped}) }
	c.OnAudioDelta = func(pcm []byte) { s.mb.send(event{kind: eventAIMessage, aiKind: aiAudioDelta, audioDelta: pcm}) }
	c.OnResponseDone = func() { s.mb.send(event{kind: eventAIMessage, aiKind: aiResponseDone}) }
	c.OnFunctionCall = func(name, callID, args string) {
		s.mb.send(event{kind: eventAIMessage, aiKind: aiFunctionCall, fnName: name, fnCallID: callID, fnArgsJSON: args})
	}
	c.OnFatalError = func(err error) { s.mb.send(event{kind: eventAIMessage, aiKind: aiFatalError, err: err}) }
	c.OnDisconnected = func() { s.mb.send(event{kind: eventAIMessage, aiKind: aiDisconnected}) }
	s.ai = c

	ctx, cancel := context.WithCancel(s.dlg.Context())
	s.aiCancel = cancel
	go func() {
		if err := c.Connect(ctx); err != nil && ctx.Err() == nil {
			slog.Error("session: AI connection ended", "call_id", s.dlg.CallID, "error", err)
		}
	}()
}

func (s *Session) handleAIMessage(e event) {
	log := slog.With("call_id", s.dlg.CallID)
	switch e.aiKind {
	case aiSessionUpdated:
		if err := s.dlg.TransitionTo(dialog.StateAIActive); err != nil {
			log.Debug("session: ai-active transition", "error", err)
		}
		s.activity.SetWelcomeMessageActive(true)
		if err := s.ai.SendWelcome(""); err != nil {
			log.Warn("session: failed to trigger welcome prompt", "error", err)
		}
	case aiSpeechStarted:
		s.activity.SetAIResponseInProgress(true)
	case aiSpeechStopped:
	case aiAudioDelta:
		s.activity.SetWelcomeMessageActive(false)
		pcm := media.DecodeUlaw(e.audioDelta)
		encoded, err := media.Encode(s.codec, pcm)
		if err != nil {
			log.Warn("session: failed to transcode AI audio", "error", err)
			return
		}
		if s.pacer != nil {
			s.pacer.Send(encoded)
		}
	case aiResponseDone:
		s.activity.SetAIResponseInProgress(false)
		s.activity.SetWelcomeMessageActive(false)
		if s.activity.PendingCleanup() {
			s.teardown(dialog.ReasonRemoteBYE)
		}
	case aiFunctionCall:
		s.handleFunctionCall(e.fnName, e.fnCallID, e.fnArgsJSON)
	case aiFatalError:
		log.Error("session: AI session fatal error", "error", e.err)
		s.teardown(dialog.ReasonError)
	case aiDisconnected:
		log.Warn("session: AI connection dropped, reconnecting")
	}
}

// handleFunctionCall dispatches the two tools offered in the
// session.update payload. Call transfer beyond acknowledging the
// request is explicitly out of scope; end_call hangs the call up on
// the AI's behalf.
func (s *Session) handleFunctionCall(name, callID, argsJSON string) {
	log := slog.With("call_id", s.dlg.CallID, "tool", name, "tool_call_id", callID)
	switch name {
	case "transfer_call":
		log.Info("session: transfer_call requested, acknowledging only", "arguments", argsJSON)
	case "end_call":
		log.Info("session: end_call requested")
		s.teardown(dialog.ReasonAIEndCall)
	default:
		log.Warn("session: unrecognized tool call")
	}
}

func (s *Session) handleTimer(name string) {
	switch name {
	case timerACK:
		slog.Warn("session: no ACK received, tearing down", "call_id", s.dlg.CallID)
		s.teardown(dialog.ReasonTimeout)
	case timerMediaReady:
		if s.dlg.GetState() == dialog.StateConfirmed {
			if err := s.dlg.TransitionTo(dialog.StateMediaReady); err == nil {
				s.openAISession()
			}
		}
	case timerSessionRefresh:
		s.refreshSession()
	}
}

// refreshSession sends the RFC 4028 re-INVITE refresh and re-arms the
// timer for the next cycle on success.
func (s *Session) refreshSession() {
	log := slog.With("call_id", s.dlg.CallID)
	contact := s.localContact()
	req, err := s.dlg.BuildSessionRefreshINVITE(contact, s.cfg.SessionExpiresSeconds)
	if err != nil {
		log.Warn("session: failed to build refresh INVITE", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(s.dlg.Context(), 5*time.Second)
	defer cancel()
	tx, err := s.sipClient.TransactionRequest(ctx, req)
	if err != nil {
		log.Warn("session: failed to send refresh re-INVITE", "error", err)
		return
	}
	defer tx.Terminate()
	select {
	case resp := <-tx.Responses():
		if resp != nil && resp.StatusCode < 300 {
			s.scheduleSessionRefresh()
		} else if resp != nil {
			log.Warn("session: session refresh rejected", "status", resp.StatusCode)
		}
	case <-tx.Done():
	case <-ctx.Done():
	}
}

// handleReINVITE answers a caller-initiated re-INVITE with the
// unchanged, already-negotiated SDP: this process does not support
// mid-call media renegotiation, so the safest response is to
// re-confirm the existing session rather than reject it outright.
func (s *Session) handleReINVITE(req *sip.Request, tx sip.ServerTransaction) {
	mc := s.dlg.GetMedia()
	answer, err := sipmsg.BuildAnswer(s.localHost, mc.LocalRTPPort, mc.Codec)
	if err != nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(488), "Not Acceptable Here", nil))
		return
	}
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	resp.To().Params.Add("tag", s.dlg.LocalTag)
	ct := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&ct)
	_ = tx.Respond(resp)
}

// handleCANCEL implements spec.md §4.4's race: 200 OK to the CANCEL
// itself, 487 Request Terminated on the still-open INVITE transaction,
// then teardown. Grounded directly on the teacher's
// Manager.HandleIncomingCANCEL.
func (s *Session) handleCANCEL(req *sip.Request, tx sip.ServerTransaction) {
	log := slog.With("call_id", s.dlg.CallID)
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))

	if s.dlg.Transaction != nil {
		terminated := sip.NewResponseFromRequest(s.dlg.InviteRequest, sip.StatusCode(487), "Request Terminated", nil)
		if s.dlg.LocalTag != "" {
			terminated.To().Params.Add("tag", s.dlg.LocalTag)
		}
		if err := s.dlg.Transaction.Respond(terminated); err != nil {
			log.Warn("session: failed to send 487 for cancelled INVITE", "error", err)
		}
	}
	s.teardown(dialog.ReasonCancel)
}

// handleBYE implements spec.md §4.4's BYE-disposition decision tree.
// A legitimate hangup gets an immediate 200 OK and teardown; anything
// that looks spurious is still answered 200 OK (a SIP server answers
// every request it understands) but the call is only torn down when
// it is safe to do so.
func (s *Session) handleBYE(req *sip.Request, tx sip.ServerTransaction) {
	log := slog.With("call_id", s.dlg.CallID)
	respondOK := func() {
		resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
		if err := tx.Respond(resp); err != nil {
			log.Error("session: failed to respond to BYE", "error", err)
		}
	}

	if s.cfg.DisableByeHeuristic || s.byeIsLegitimate(req) {
		respondOK()
		s.teardown(dialog.ReasonRemoteBYE)
		return
	}

	if s.activity.WelcomeMessageActive() {
		log.Debug("session: BYE received during welcome message, ignoring")
		respondOK()
		return
	}

	if s.activity.AIResponseInProgress() {
		log.Debug("session: BYE received during AI response, deferring teardown")
		respondOK()
		s.activity.SetPendingCleanup(true)
		return
	}

	if s.activity.IdleFor() >= idleBeforeTeardown {
		log.Debug("session: BYE received while idle, tearing down")
		respondOK()
		s.teardown(dialog.ReasonRemoteBYE)
		return
	}

	log.Debug("session: BYE received but disposition is inconclusive, ignoring")
	respondOK()
}

// byeIsLegitimate reports whether req's source, Reason header, or call
// age make it an unambiguous caller-initiated hangup, per spec.md
// §4.4: source matches the original signaling address, OR the Reason
// header names a normal hangup, OR the dialog has been CONFIRMED or
// later for more than 3s.
func (s *Session) byeIsLegitimate(req *sip.Request) bool {
	if req.Source() == s.dlg.RemoteSignalingAddr {
		return true
	}
	if h := req.GetHeader("Reason"); h != nil && byeLegitimateReason.MatchString(h.Value()) {
		return true
	}
	return s.activity.ConfirmedFor() > confirmedGrace
}

// localContact picks the Contact URI for requests this session
// initiates (BYE, the session-timer refresh re-INVITE). Grounded on
// the teacher's Manager.sendBYE, which prefers the INVITE's own
// Contact/From address over constructing a fresh local URI.
func (s *Session) localContact() sip.Uri {
	if s.dlg.InviteRequest != nil {
		if contact := s.dlg.InviteRequest.Contact(); contact != nil {
			return contact.Address
		}
		if from := s.dlg.InviteRequest.From(); from != nil {
			return from.Address
		}
	}
	return sip.Uri{Scheme: "sip", User: "bridge", Host: s.localHost}
}

// sendBYE locally initiates a hangup toward the caller, used by
// teardown when the call wasn't already ended by a remote BYE/CANCEL.
func (s *Session) sendBYE() {
	log := slog.With("call_id", s.dlg.CallID)
	req, err := s.dlg.BuildBYE(s.localContact())
	if err != nil {
		log.Warn("session: failed to build local BYE", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.sipClient.TransactionRequest(ctx, req)
	if err != nil {
		log.Warn("session: failed to send local BYE", "error", err)
		return
	}
	defer tx.Terminate()
	select {
	case <-tx.Responses():
	case <-tx.Done():
	case <-ctx.Done():
	}
}

// teardown runs spec.md §4.4's teardown sequence exactly once: cancel
// every session timer, stop the RTP pacer, end the AI connection by
// cancelling its context, release the RTP port, publish CallEnded,
// and - if the call wasn't already ended by the peer - send a BYE.
func (s *Session) teardown(reason dialog.TerminateReason) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.dlg.TerminateReason = reason
	_ = s.dlg.TransitionTo(dialog.StateTerminated)

	s.timers.Close()
	if s.pacer != nil {
		s.pacer.Close()
	}
	if s.aiCancel != nil {
		s.aiCancel()
	}
	if s.rtpConn != nil {
		s.rtpConn.Close()
		s.ports.release(s.rtpPort)
	}

	wasConfirmed := s.activity.ConfirmedFor() > 0
	if wasConfirmed && reason != dialog.ReasonRemoteBYE && reason != dialog.ReasonCancel {
		s.sendBYE()
	}

	s.bus.PublishCallEnded(events.CallEnded{
		CallID:    s.dlg.CallID,
		Reason:    mapEndReason(reason),
		Duration:  time.Since(s.activity.CallStart()),
		Timestamp: time.Now(),
	})

	s.dlg.Cancel()
	s.mb.close()
	if s.onTerminated != nil {
		s.onTerminated(s.dlg.CallID)
	}
}

func mapEndReason(r dialog.TerminateReason) events.CallEndReason {
	switch r {
	case dialog.ReasonCancel:
		return events.EndCancel
	case dialog.ReasonTimeout:
		return events.EndTimeout
	case dialog.ReasonError:
		return events.EndError
	case dialog.ReasonAIEndCall:
		return events.EndLocalBYE
	default:
		return events.EndRemoteBYE
	}
}
