package keepalive

import (
	"testing"
	"time"

	"github.com/sebas/sip-ai-bridge/internal/config"
	"github.com/sebas/sip-ai-bridge/internal/events"
	"github.com/sebas/sip-ai-bridge/internal/registrar"
)

type fakeRegState struct{ s registrar.State }

func (f fakeRegState) State() registrar.State { return f.s }

func TestCheckLivenessAliveWhenRegisteredAndFresh(t *testing.T) {
	m := &Monitor{
		cfg: &config.Config{SessionExpiresSeconds: 3600},
		reg: fakeRegState{registrar.StateRegistered},
		bus: events.NewBus(4),
	}
	m.lastSuccess.Store(time.Now().Unix())
	m.checkLiveness()

	select {
	case ev := <-m.bus.ClientStatuses():
		if ev.Level != events.StatusAlive {
			t.Fatalf("expected ALIVE, got %v (%s)", ev.Level, ev.Reason)
		}
	default:
		t.Fatal("expected a ClientStatus event to be published")
	}
}

func TestCheckLivenessDegradedWhenLastSuccessStale(t *testing.T) {
	m := &Monitor{
		cfg: &config.Config{SessionExpiresSeconds: 3600},
		reg: fakeRegState{registrar.StateRegistered},
		bus: events.NewBus(4),
	}
	m.lastSuccess.Store(time.Now().Add(-2 * time.Hour).Unix())
	m.checkLiveness()

	ev := <-m.bus.ClientStatuses()
	if ev.Level != events.StatusDegraded {
		t.Fatalf("expected DEGRADED for stale last-success, got %v", ev.Level)
	}
}

func TestCheckLivenessDegradedWhenFailed(t *testing.T) {
	m := &Monitor{
		cfg: &config.Config{SessionExpiresSeconds: 3600},
		reg: fakeRegState{registrar.StateFailed},
		bus: events.NewBus(4),
	}
	m.checkLiveness()

	ev := <-m.bus.ClientStatuses()
	if ev.Level != events.StatusDegraded {
		t.Fatalf("expected DEGRADED when registration state is FAILED, got %v", ev.Level)
	}
}

func TestNoteSocketResultResetsOnSuccess(t *testing.T) {
	m := &Monitor{}
	m.consecutiveErrors.Store(2)
	m.noteSocketResult(nil)
	if got := m.consecutiveErrors.Load(); got != 0 {
		t.Fatalf("expected counter reset to 0, got %d", got)
	}
}

func TestNoteSocketResultTriggersRebindAtThreshold(t *testing.T) {
	rebound := false
	m := &Monitor{Rebind: func() error { rebound = true; return nil }}
	for i := 0; i < rebindErrorThreshold; i++ {
		m.noteSocketResult(errTest)
	}
	if !rebound {
		t.Fatal("expected Rebind to be called once the error threshold was reached")
	}
}

var errTest = fakeErr{}

type fakeErr struct{}

func (fakeErr) Error() string { return "fake socket error" }
