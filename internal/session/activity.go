package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// ActivityTracker is the per-session Call Activity Tracker from spec.md
// §3, consulted by the BYE-disposition decision in handleBYE and by
// teardown (session.go).
type ActivityTracker struct {
	callStart time.Time

	lastAudioActivity atomic.Int64 // unix nanos

	aiResponseInProgress atomic.Bool
	welcomeMessageActive atomic.Bool
	pendingCleanup       atomic.Bool

	mu             sync.Mutex
	confirmedSince time.Time
}

// NewActivityTracker creates a tracker with callStart set to now.
func NewActivityTracker() *ActivityTracker {
	t := &ActivityTracker{callStart: time.Now()}
	t.lastAudioActivity.Store(t.callStart.UnixNano())
	return t
}

// TouchAudio records RTP activity (in either direction) at now.
func (t *ActivityTracker) TouchAudio() {
	t.lastAudioActivity.Store(time.Now().UnixNano())
}

// IdleFor reports how long it has been since the last recorded RTP activity.
func (t *ActivityTracker) IdleFor() time.Duration {
	return time.Since(time.Unix(0, t.lastAudioActivity.Load()))
}

// SetConfirmedAt records when the dialog entered CONFIRMED, used by the
// BYE-disposition "in CONFIRMED or later for more than 3s" rule.
func (t *ActivityTracker) SetConfirmedAt(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.confirmedSince.IsZero() {
		t.confirmedSince = at
	}
}

// ConfirmedFor reports how long the dialog has been CONFIRMED or later,
// or zero if it never reached CONFIRMED.
func (t *ActivityTracker) ConfirmedFor() time.Duration {
	t.mu.Lock()
	since := t.confirmedSince
	t.mu.Unlock()
	if since.IsZero() {
		return 0
	}
	return time.Since(since)
}

func (t *ActivityTracker) SetAIResponseInProgress(v bool) { t.aiResponseInProgress.Store(v) }
func (t *ActivityTracker) AIResponseInProgress() bool     { return t.aiResponseInProgress.Load() }

func (t *ActivityTracker) SetWelcomeMessageActive(v bool) { t.welcomeMessageActive.Store(v) }
func (t *ActivityTracker) WelcomeMessageActive() bool     { return t.welcomeMessageActive.Load() }

func (t *ActivityTracker) SetPendingCleanup(v bool) { t.pendingCleanup.Store(v) }
func (t *ActivityTracker) PendingCleanup() bool     { return t.pendingCleanup.Load() }

// CallStart returns the wall-clock time the tracker was created.
func (t *ActivityTracker) CallStart() time.Time { return t.callStart }
