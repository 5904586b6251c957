package registrar

import (
	"testing"

	"github.com/emiago/sipgo/sip"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateUnregistered: "UNREGISTERED",
		StateRegistering:  "REGISTERING",
		StateRegistered:   "REGISTERED",
		StateFailed:       "FAILED",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestHeaderAuthName(t *testing.T) {
	if got := headerAuthName("WWW-Authenticate"); got != "Authorization" {
		t.Errorf("expected Authorization, got %s", got)
	}
	if got := headerAuthName("Proxy-Authenticate"); got != "Proxy-Authorization" {
		t.Errorf("expected Proxy-Authorization, got %s", got)
	}
}

func TestGrantedExpiresFallsBackWithoutHeader(t *testing.T) {
	res := &sip.Response{StatusCode: 200, Reason: "OK"}
	if got := grantedExpires(res, 3600); got != 3600 {
		t.Errorf("expected fallback 3600, got %d", got)
	}
}

func TestGrantedExpiresParsesHeader(t *testing.T) {
	res := &sip.Response{StatusCode: 200, Reason: "OK"}
	res.AppendHeader(sip.NewHeader("Expires", "1800"))
	if got := grantedExpires(res, 3600); got != 1800 {
		t.Errorf("expected 1800, got %d", got)
	}
}
