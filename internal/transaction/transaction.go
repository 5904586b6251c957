// Package transaction wraps sipgo's client transaction with the
// retry/backoff policy spec.md §4.3 describes on top of it. sipgo's
// sip.ClientTransaction already retransmits a request per RFC 3261
// Timer A/B internally (see the teacher's dialog/manager.go and
// b2bua/originator.go, both of which just block on tx.Responses()/
// tx.Done()); what's missing is the higher-level policy of how many
// whole transaction attempts (new branch, possibly new Call-ID) to
// make before giving up, and the backoff between REGISTER attempts.
package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// State mirrors the RFC 3261 client transaction states spec.md §4.3
// names, derived here from the response stream for logging/session
// bookkeeping rather than reimplemented as a state machine (sipgo owns
// the real one).
type State int

const (
	Trying State = iota
	Proceeding
	Completed
	Terminated
)

func (s State) String() string {
	switch s {
	case Trying:
		return "TRYING"
	case Proceeding:
		return "PROCEEDING"
	case Completed:
		return "COMPLETED"
	default:
		return "TERMINATED"
	}
}

// MaxAttempts is the number of whole-transaction attempts before a
// REGISTER or INVITE is abandoned, per spec.md §4.3/§9: 6 for REGISTER,
// 7 for INVITE (mirroring RFC 3261's non-INVITE/INVITE Timer B/F
// multiples of T1).
func MaxAttempts(method sip.RequestMethod) int {
	if method == sip.INVITE {
		return 7
	}
	return 6
}

// Backoff returns the delay before transaction attempt n (1-indexed):
// Timer A style doubling starting at 500ms, capped at 4s.
func Backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 4*time.Second {
			return 4 * time.Second
		}
	}
	return d
}

// Do sends req as a new client transaction and blocks for the first
// response, a transaction-terminated signal, or ctx cancellation,
// whichever comes first. It reports the coarse State the response
// implies so callers can log consistently with spec.md §4.3's
// vocabulary.
func Do(ctx context.Context, client *sipgo.Client, req *sip.Request) (*sip.Response, State, error) {
	tx, err := client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, Trying, fmt.Errorf("transaction: send %s: %w", req.Method, err)
	}
	defer tx.Terminate()

	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				continue
			}
			if res.StatusCode >= 200 {
				return res, Completed, nil
			}
			// provisional: keep waiting for the final response
			continue
		case <-tx.Done():
			return nil, Terminated, fmt.Errorf("transaction: %s terminated without final response", req.Method)
		case <-ctx.Done():
			return nil, Terminated, ctx.Err()
		}
	}
}

// DoWithRetries runs Do up to MaxAttempts(method) times, calling
// rebuild before every attempt, the first included, to produce the
// request to send (new branch, and for REGISTER a fresh Call-ID per
// spec.md §9's open question). It stops retrying on any response, success or
// failure - retry policy after a final non-2xx is the caller's
// decision (e.g. registrar's auth retry vs FAILED-state backoff), not
// this package's.
func DoWithRetries(ctx context.Context, client *sipgo.Client, method sip.RequestMethod, rebuild func(attempt int) (*sip.Request, error)) (*sip.Response, error) {
	max := MaxAttempts(method)
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		req, err := rebuild(attempt)
		if err != nil {
			return nil, fmt.Errorf("transaction: build attempt %d: %w", attempt, err)
		}
		res, _, err := Do(ctx, client, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("transaction: %s abandoned after %d attempts: %w", method, max, lastErr)
}
