// Package dialog implements the per-call Dialog type and state machine
// from spec.md §3/§4.4. This process only ever plays the UAS role (the
// upstream PBX always sends the INVITE); there is no outbound-dialog
// variant, which lets this stay considerably smaller than a general
// B2BUA dialog layer.
package dialog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
)

// MediaContext is the negotiated RTP media parameters for a dialog, per
// spec.md §3.
type MediaContext struct {
	Codec          uint8 // negotiated RTP payload type (0=PCMU, 8=PCMA)
	LocalRTPPort   int
	RemoteHost     string
	RemoteRTPPort  int
	SSRC           uint32
	SeqStart       uint16
	TimestampStart uint32
}

// Dialog is the SIP peer-to-peer relationship for one inbound call,
// identified by the Call-ID/local-tag/remote-tag triple (RFC 3261 §12).
type Dialog struct {
	mu sync.RWMutex

	CallID    string
	LocalTag  string
	RemoteTag string

	State          State
	CreatedAt      time.Time
	StateChangedAt time.Time

	InviteRequest  *sip.Request
	Transaction    sip.ServerTransaction
	InviteResponse *sip.Response

	Media MediaContext

	RemoteSignalingAddr string // source address:port of the INVITE, for BYE-disposition checks

	localCSeq atomic.Uint32

	ctx             context.Context
	cancel          context.CancelFunc
	TerminateReason TerminateReason
}

// NewDialog creates a Dialog from an incoming INVITE. The local tag is
// assigned separately once the 180/200 response is built (spec.md §4.4
// step 3 generates it ahead of the 200 OK so both share it).
func NewDialog(req *sip.Request, tx sip.ServerTransaction, remoteSignalingAddr string) *Dialog {
	ctx, cancel := context.WithCancel(context.Background())

	callID := ""
	if id := req.CallID(); id != nil {
		callID = id.Value()
	}

	remoteTag := ""
	if from := req.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			remoteTag = tag
		}
	}

	var initialCSeq uint32
	if cseq := req.CSeq(); cseq != nil {
		initialCSeq = cseq.SeqNo
	}

	now := time.Now()
	d := &Dialog{
		CallID:              callID,
		RemoteTag:           remoteTag,
		State:               StateIdle,
		CreatedAt:           now,
		StateChangedAt:      now,
		InviteRequest:       req,
		Transaction:         tx,
		RemoteSignalingAddr: remoteSignalingAddr,
		ctx:                 ctx,
		cancel:              cancel,
	}
	d.localCSeq.Store(initialCSeq)
	return d
}

// GetState returns the current state.
func (d *Dialog) GetState() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.State
}

// TransitionTo attempts a transition, returning an error (never
// panicking) on an illegal edge, per spec.md §7's "session invariant
// violation: log and no-op".
func (d *Dialog) TransitionTo(next State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.State.CanTransitionTo(next) {
		return fmt.Errorf("dialog %s: invalid state transition %s -> %s", d.CallID, d.State, next)
	}
	d.State = next
	d.StateChangedAt = time.Now()
	return nil
}

// StateAge returns how long the dialog has been in its current state.
func (d *Dialog) StateAge() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return time.Since(d.StateChangedAt)
}

// SetLocalTag records the tag generated for the 180/200 responses.
func (d *Dialog) SetLocalTag(tag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.LocalTag = tag
}

// SetInviteResponse stores the 200 OK for later BYE/re-INVITE construction.
func (d *Dialog) SetInviteResponse(resp *sip.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InviteResponse = resp
}

// SetMedia records the negotiated media parameters.
func (d *Dialog) SetMedia(m MediaContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Media = m
}

// GetMedia returns a copy of the negotiated media parameters.
func (d *Dialog) GetMedia() MediaContext {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Media
}

func (d *Dialog) Context() context.Context { return d.ctx }
func (d *Dialog) Cancel()                  { d.cancel() }

func (d *Dialog) IsTerminated() bool {
	return d.GetState() == StateTerminated
}

// BuildBYE constructs a locally initiated BYE for this dialog, used for
// the teardown sequence (spec.md §4.4 "Teardown").
// Per RFC 3261 §12.2.1.1, in-dialog requests from the UAS swap the
// original From/To: our identity (the 200 OK's To, with our tag)
// becomes From, and the caller's identity becomes To.
func (d *Dialog) BuildBYE(localContact sip.Uri) (*sip.Request, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.InviteRequest == nil {
		return nil, fmt.Errorf("dialog %s: cannot build BYE, missing INVITE", d.CallID)
	}

	var recipient sip.Uri
	if contact := d.InviteRequest.Contact(); contact != nil {
		recipient = contact.Address
		recipient.UriParams = sip.NewParams()
	} else {
		recipient = d.InviteRequest.From().Address
	}

	byeReq := sip.NewRequest(sip.BYE, recipient)

	fromAddr := d.InviteRequest.To().Address
	fromHdr := &sip.FromHeader{Address: fromAddr, Params: sip.NewParams()}
	if d.LocalTag != "" {
		fromHdr.Params.Add("tag", d.LocalTag)
	}
	byeReq.AppendHeader(fromHdr)

	toAddr := d.InviteRequest.From().Address
	toHdr := &sip.ToHeader{Address: toAddr, Params: sip.NewParams()}
	if d.RemoteTag != "" {
		toHdr.Params.Add("tag", d.RemoteTag)
	}
	byeReq.AppendHeader(toHdr)

	if callIDHdr := d.InviteRequest.CallID(); callIDHdr != nil {
		byeReq.AppendHeader(callIDHdr)
	}

	newSeqNo := d.localCSeq.Add(1)
	byeReq.AppendHeader(&sip.CSeqHeader{SeqNo: newSeqNo, MethodName: sip.BYE})

	maxFwd := sip.MaxForwardsHeader(70)
	byeReq.AppendHeader(&maxFwd)
	byeReq.AppendHeader(&sip.ContactHeader{Address: localContact})

	return byeReq, nil
}

// BuildSessionRefreshINVITE constructs the re-INVITE used to refresh an
// RFC 4028 session timer, carrying no SDP change.
func (d *Dialog) BuildSessionRefreshINVITE(localContact sip.Uri, sessionExpires int) (*sip.Request, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.InviteRequest == nil {
		return nil, fmt.Errorf("dialog %s: cannot build refresh INVITE, missing INVITE", d.CallID)
	}

	var recipient sip.Uri
	if contact := d.InviteRequest.Contact(); contact != nil {
		recipient = contact.Address
		recipient.UriParams = sip.NewParams()
	} else {
		recipient = d.InviteRequest.From().Address
	}

	req := sip.NewRequest(sip.INVITE, recipient)

	fromAddr := d.InviteRequest.To().Address
	fromHdr := &sip.FromHeader{Address: fromAddr, Params: sip.NewParams()}
	if d.LocalTag != "" {
		fromHdr.Params.Add("tag", d.LocalTag)
	}
	req.AppendHeader(fromHdr)

	toAddr := d.InviteRequest.From().Address
	toHdr := &sip.ToHeader{Address: toAddr, Params: sip.NewParams()}
	if d.RemoteTag != "" {
		toHdr.Params.Add("tag", d.RemoteTag)
	}
	req.AppendHeader(toHdr)

	if callIDHdr := d.InviteRequest.CallID(); callIDHdr != nil {
		req.AppendHeader(callIDHdr)
	}

	newSeqNo := d.localCSeq.Add(1)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: newSeqNo, MethodName: sip.INVITE})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.ContactHeader{Address: localContact})
	req.AppendHeader(sip.NewHeader("Session-Expires", fmt.Sprintf("%d", sessionExpires)))
	req.AppendHeader(sip.NewHeader("Supported", "timer"))

	return req, nil
}
