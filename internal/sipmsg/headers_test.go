package sipmsg

import (
	"testing"

	"github.com/emiago/sipgo/sip"
)

func fakeRequest(t *testing.T, withVia, withFrom, withTo, withCallID, withCSeq bool) *sip.Request {
	t.Helper()
	uri := sip.Uri{Scheme: "sip", User: "100", Host: "bridge.example"}
	req := sip.NewRequest(sip.INVITE, uri)

	if withVia {
		req.AppendHeader(&sip.ViaHeader{
			ProtocolName:    "SIP",
			ProtocolVersion: "2.0",
			Transport:       "UDP",
			Host:            "203.0.113.5",
			Port:            5060,
			Params:          sip.NewParams(),
		})
	}
	if withFrom {
		from := &sip.FromHeader{Address: sip.Uri{Scheme: "sip", User: "caller", Host: "pbx.example"}, Params: sip.NewParams()}
		from.Params.Add("tag", "tag123")
		req.AppendHeader(from)
	}
	if withTo {
		req.AppendHeader(&sip.ToHeader{Address: uri, Params: sip.NewParams()})
	}
	if withCallID {
		req.AppendHeader(sip.NewHeader("Call-ID", "call-1@pbx.example"))
	}
	if withCSeq {
		req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	}
	return req
}

func TestHasRequiredHeadersComplete(t *testing.T) {
	req := fakeRequest(t, true, true, true, true, true)
	if !HasRequiredHeaders(req) {
		t.Error("HasRequiredHeaders() = false, want true for a fully formed request")
	}
}

func TestHasRequiredHeadersMissing(t *testing.T) {
	tests := []struct {
		name                         string
		via, from, to, callID, cseq bool
	}{
		{"missing Via", false, true, true, true, true},
		{"missing From", true, false, true, true, true},
		{"missing To", true, true, false, true, true},
		{"missing Call-ID", true, true, true, false, true},
		{"missing CSeq", true, true, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := fakeRequest(t, tt.via, tt.from, tt.to, tt.callID, tt.cseq)
			if HasRequiredHeaders(req) {
				t.Errorf("HasRequiredHeaders() = true, want false for %s", tt.name)
			}
		})
	}
}

func TestContentLengthMismatchNoHeader(t *testing.T) {
	req := fakeRequest(t, true, true, true, true, true)
	declared, actual, mismatch := ContentLengthMismatch(req)
	if mismatch {
		t.Errorf("ContentLengthMismatch() mismatch = true, want false when header absent (declared=%d actual=%d)", declared, actual)
	}
}

func TestContentLengthMismatchAgrees(t *testing.T) {
	req := fakeRequest(t, true, true, true, true, true)
	req.AppendHeader(sip.NewHeader("Content-Length", "0"))
	_, _, mismatch := ContentLengthMismatch(req)
	if mismatch {
		t.Error("ContentLengthMismatch() mismatch = true, want false when declared matches actual body length")
	}
}

func TestContentLengthMismatchDisagrees(t *testing.T) {
	req := fakeRequest(t, true, true, true, true, true)
	req.AppendHeader(sip.NewHeader("Content-Length", "42"))
	declared, actual, mismatch := ContentLengthMismatch(req)
	if !mismatch {
		t.Error("ContentLengthMismatch() mismatch = false, want true when declared disagrees with actual body length")
	}
	if declared != 42 || actual != 0 {
		t.Errorf("ContentLengthMismatch() = (%d, %d), want (42, 0)", declared, actual)
	}
}

func TestParseAnswerMode(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   AnswerMode
	}{
		{"no header", "", "", AnswerModeNone},
		{"auto", "Answer-Mode", "auto", AnswerModeAuto},
		{"manual", "Answer-Mode", "Manual", AnswerModeManual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := fakeRequest(t, true, true, true, true, true)
			if tt.header != "" {
				req.AppendHeader(sip.NewHeader(tt.header, tt.value))
			}
			if got := ParseAnswerMode(req); got != tt.want {
				t.Errorf("ParseAnswerMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseAnswerModePrivPreferred(t *testing.T) {
	req := fakeRequest(t, true, true, true, true, true)
	req.AppendHeader(sip.NewHeader("Answer-Mode", "manual"))
	req.AppendHeader(sip.NewHeader("Priv-Answer-Mode", "auto"))

	if got := ParseAnswerMode(req); got != AnswerModeAuto {
		t.Errorf("ParseAnswerMode() = %v, want AnswerModeAuto when Priv-Answer-Mode overrides Answer-Mode", got)
	}
}
