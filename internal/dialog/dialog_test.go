package dialog

import (
	"testing"

	"github.com/emiago/sipgo/sip"
)

func fakeInvite(t *testing.T, callID string) *sip.Request {
	t.Helper()
	uri := sip.Uri{Scheme: "sip", User: "100", Host: "bridge.example"}
	req := sip.NewRequest(sip.INVITE, uri)

	from := &sip.FromHeader{Address: sip.Uri{Scheme: "sip", User: "caller", Host: "pbx.example"}, Params: sip.NewParams()}
	from.Params.Add("tag", "remotetag123")
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: uri, Params: sip.NewParams()}
	req.AppendHeader(to)

	req.AppendHeader(sip.NewHeader("Call-ID", callID))
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(&sip.ContactHeader{Address: from.Address})
	return req
}

func TestNewDialogExtractsRemoteTagAndCallID(t *testing.T) {
	req := fakeInvite(t, "call-123@pbx.example")
	d := NewDialog(req, nil, "203.0.113.5:5060")

	if d.CallID != "call-123@pbx.example" {
		t.Errorf("CallID = %q, want call-123@pbx.example", d.CallID)
	}
	if d.RemoteTag != "remotetag123" {
		t.Errorf("RemoteTag = %q, want remotetag123", d.RemoteTag)
	}
	if d.GetState() != StateIdle {
		t.Errorf("initial state = %s, want IDLE", d.GetState())
	}
}

func TestDialogTransitionToRejectsIllegalEdge(t *testing.T) {
	req := fakeInvite(t, "call-456@pbx.example")
	d := NewDialog(req, nil, "203.0.113.5:5060")

	if err := d.TransitionTo(StateMediaReady); err == nil {
		t.Fatal("expected error transitioning IDLE -> MEDIA_READY directly")
	}
	if d.GetState() != StateIdle {
		t.Errorf("state changed after rejected transition: %s", d.GetState())
	}

	if err := d.TransitionTo(StateProceeding); err != nil {
		t.Fatalf("unexpected error on legal transition: %v", err)
	}
	if d.GetState() != StateProceeding {
		t.Errorf("state = %s, want PROCEEDING", d.GetState())
	}
}

func TestBuildBYESwapsFromToForUAS(t *testing.T) {
	req := fakeInvite(t, "call-789@pbx.example")
	d := NewDialog(req, nil, "203.0.113.5:5060")
	d.SetLocalTag("localtag456")

	localContact := sip.Uri{Scheme: "sip", User: "100", Host: "203.0.113.9", Port: 5060}
	bye, err := d.BuildBYE(localContact)
	if err != nil {
		t.Fatalf("BuildBYE: %v", err)
	}
	if bye.Method != sip.BYE {
		t.Errorf("method = %s, want BYE", bye.Method)
	}
	fromTag, _ := bye.From().Params.Get("tag")
	if fromTag != "localtag456" {
		t.Errorf("BYE From tag = %q, want localtag456", fromTag)
	}
	toTag, _ := bye.To().Params.Get("tag")
	if toTag != "remotetag123" {
		t.Errorf("BYE To tag = %q, want remotetag123", toTag)
	}
	if cseq := bye.CSeq(); cseq == nil || cseq.SeqNo != 2 {
		t.Errorf("BYE CSeq = %v, want 2", cseq)
	}
}

func TestBuildSessionRefreshINVITEIncludesSessionExpires(t *testing.T) {
	req := fakeInvite(t, "call-abc@pbx.example")
	d := NewDialog(req, nil, "203.0.113.5:5060")
	d.SetLocalTag("localtag999")

	localContact := sip.Uri{Scheme: "sip", User: "100", Host: "203.0.113.9", Port: 5060}
	refresh, err := d.BuildSessionRefreshINVITE(localContact, 1800)
	if err != nil {
		t.Fatalf("BuildSessionRefreshINVITE: %v", err)
	}
	h := refresh.GetHeader("Session-Expires")
	if h == nil || h.Value() != "1800" {
		t.Errorf("Session-Expires header = %v, want 1800", h)
	}
}
