package transaction

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
)

func TestMaxAttempts(t *testing.T) {
	if n := MaxAttempts(sip.REGISTER); n != 6 {
		t.Errorf("expected REGISTER max attempts 6, got %d", n)
	}
	if n := MaxAttempts(sip.INVITE); n != 7 {
		t.Errorf("expected INVITE max attempts 7, got %d", n)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}
	for i, w := range want {
		if got := Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Trying:     "TRYING",
		Proceeding: "PROCEEDING",
		Completed:  "COMPLETED",
		Terminated: "TERMINATED",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
