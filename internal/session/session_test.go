package session

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/sip-ai-bridge/internal/dialog"
	"github.com/sebas/sip-ai-bridge/internal/events"
)

func fakeInvite(t *testing.T, callID string, answerMode string) *sip.Request {
	t.Helper()
	uri := sip.Uri{Scheme: "sip", User: "100", Host: "bridge.example"}
	req := sip.NewRequest(sip.INVITE, uri)
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            "203.0.113.5",
		Port:            5060,
		Params:          sip.NewParams(),
	})

	from := &sip.FromHeader{Address: sip.Uri{Scheme: "sip", User: "caller", Host: "pbx.example"}, Params: sip.NewParams()}
	from.Params.Add("tag", "remotetag123")
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: uri, Params: sip.NewParams()}
	req.AppendHeader(to)

	req.AppendHeader(sip.NewHeader("Call-ID", callID))
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(&sip.ContactHeader{Address: from.Address})
	if answerMode != "" {
		req.AppendHeader(sip.NewHeader("Answer-Mode", answerMode))
	}
	return req
}

func newTestSession(t *testing.T, callID, remoteAddr string) *Session {
	t.Helper()
	req := fakeInvite(t, callID, "")
	return New(nil, nil, nil, nil, "bridge.example", req, nil, remoteAddr, nil)
}

func TestAutoAnswerDelay(t *testing.T) {
	tests := []struct {
		name       string
		answerMode string
		want       time.Duration
	}{
		{"no header", "", 1 * time.Second},
		{"auto", "auto", 100 * time.Millisecond},
		{"manual", "manual", 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := fakeInvite(t, "call-1@pbx.example", tt.answerMode)
			if got := autoAnswerDelay(req); got != tt.want {
				t.Errorf("autoAnswerDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

// A freshly built sip.Request carries no transport-assigned source
// address (Source() reads ""), so a session recorded against remote
// address "" exercises the source-match branch without needing to
// fake a transport layer.
func TestByeIsLegitimateSourceMatch(t *testing.T) {
	s := newTestSession(t, "call-2@pbx.example", "")

	bye := sip.NewRequest(sip.BYE, sip.Uri{Scheme: "sip", User: "100", Host: "bridge.example"})

	if !s.byeIsLegitimate(bye) {
		t.Error("byeIsLegitimate() = false, want true for matching source address")
	}
}

func TestByeIsLegitimateReasonHeader(t *testing.T) {
	s := newTestSession(t, "call-3@pbx.example", "203.0.113.5:5060")

	bye := sip.NewRequest(sip.BYE, sip.Uri{Scheme: "sip", User: "100", Host: "bridge.example"})
	bye.AppendHeader(sip.NewHeader("Reason", "Q.850;cause=16;text=\"Normal call clearing\""))

	if !s.byeIsLegitimate(bye) {
		t.Error("byeIsLegitimate() = false, want true for Reason header naming a normal hangup")
	}
}

func TestByeIsLegitimateLongConfirmed(t *testing.T) {
	s := newTestSession(t, "call-4@pbx.example", "203.0.113.5:5060")
	s.activity.SetConfirmedAt(time.Now().Add(-10 * time.Second))

	bye := sip.NewRequest(sip.BYE, sip.Uri{Scheme: "sip", User: "100", Host: "bridge.example"})

	if !s.byeIsLegitimate(bye) {
		t.Error("byeIsLegitimate() = false, want true after 10s CONFIRMED with mismatched source")
	}
}

func TestByeIsLegitimateFalseByDefault(t *testing.T) {
	s := newTestSession(t, "call-5@pbx.example", "203.0.113.5:5060")

	bye := sip.NewRequest(sip.BYE, sip.Uri{Scheme: "sip", User: "100", Host: "bridge.example"})

	if s.byeIsLegitimate(bye) {
		t.Error("byeIsLegitimate() = true, want false for mismatched source, no Reason header, not yet CONFIRMED")
	}
}

func TestMapEndReason(t *testing.T) {
	tests := []struct {
		name   string
		reason dialog.TerminateReason
		want   events.CallEndReason
	}{
		{"remote bye", dialog.ReasonRemoteBYE, events.EndRemoteBYE},
		{"cancel", dialog.ReasonCancel, events.EndCancel},
		{"timeout", dialog.ReasonTimeout, events.EndTimeout},
		{"error", dialog.ReasonError, events.EndError},
		{"ai end call", dialog.ReasonAIEndCall, events.EndLocalBYE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapEndReason(tt.reason); got != tt.want {
				t.Errorf("mapEndReason(%v) = %v, want %v", tt.reason, got, tt.want)
			}
		})
	}
}
