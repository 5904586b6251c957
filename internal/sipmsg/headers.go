// Package sipmsg provides typed accessors for the SIP headers and SDP
// attributes the bridge needs, layered on top of sipgo's sip.Message
// parsing rather than re-parsing the wire format: sipgo already turns
// a raw datagram into a structured sip.Request/Response with typed
// Via/From/To/CSeq/Call-ID accessors, so this package only adds what
// sipgo leaves as opaque header strings (RFC 2617 challenge params via
// icholy/digest, RFC 4028 Session-Expires, RFC 5373 Answer-Mode).
package sipmsg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// FromTag extracts the tag parameter from a From header, per spec.md
// §4.2 (sipgo already splits header parameters, so this is a thin
// lookup rather than a regex).
func FromTag(req *sip.Request) (string, bool) {
	from := req.From()
	if from == nil {
		return "", false
	}
	return from.Params.Get("tag")
}

// ToTag extracts the tag parameter from a To header.
func ToTag(msg sip.Message) (string, bool) {
	to := toHeader(msg)
	if to == nil {
		return "", false
	}
	return to.Params.Get("tag")
}

func toHeader(msg sip.Message) *sip.ToHeader {
	switch m := msg.(type) {
	case *sip.Request:
		return m.To()
	case *sip.Response:
		return m.To()
	default:
		return nil
	}
}

// ParseChallenge parses a WWW-Authenticate or Proxy-Authenticate
// header value into its digest fields (realm, nonce, qop, algorithm,
// opaque), quoted or unquoted, via icholy/digest.
func ParseChallenge(headerValue string) (*digest.Challenge, error) {
	return digest.ParseChallenge(headerValue)
}

// SessionExpires is the parsed form of an RFC 4028 Session-Expires
// header: "<seconds>;refresher=uac|uas".
type SessionExpires struct {
	Seconds   int
	Refresher string // "uac", "uas", or "" if absent
}

// ParseSessionExpires parses the Session-Expires header value.
func ParseSessionExpires(headerValue string) (SessionExpires, error) {
	parts := strings.Split(headerValue, ";")
	seconds, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return SessionExpires{}, fmt.Errorf("sipmsg: bad Session-Expires %q: %w", headerValue, err)
	}
	se := SessionExpires{Seconds: seconds}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if name, val, ok := strings.Cut(p, "="); ok && strings.EqualFold(name, "refresher") {
			se.Refresher = strings.ToLower(val)
		}
	}
	return se, nil
}

// AnswerMode is the RFC 5373 Answer-Mode / Priv-Answer-Mode value.
type AnswerMode int

const (
	AnswerModeNone AnswerMode = iota
	AnswerModeManual
	AnswerModeAuto
)

// ParseAnswerMode reads the Answer-Mode or Priv-Answer-Mode header
// from req, preferring Priv-Answer-Mode when both are present (it is
// the more specific, trusted-network variant of the same signal).
func ParseAnswerMode(req *sip.Request) AnswerMode {
	if h := req.GetHeader("Priv-Answer-Mode"); h != nil {
		if m := parseAnswerModeValue(h.Value()); m != AnswerModeNone {
			return m
		}
	}
	if h := req.GetHeader("Answer-Mode"); h != nil {
		return parseAnswerModeValue(h.Value())
	}
	return AnswerModeNone
}

func parseAnswerModeValue(v string) AnswerMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "auto":
		return AnswerModeAuto
	case "manual":
		return AnswerModeManual
	default:
		return AnswerModeNone
	}
}

// ContentLengthMismatch reports whether the request's declared
// Content-Length disagrees with the actual body length. Per spec.md
// §4.2 this is logged but not fatal: headers-only delivery to upper
// layers still proceeds (degraded mode).
func ContentLengthMismatch(req *sip.Request) (declared, actual int, mismatch bool) {
	h := req.GetHeader("Content-Length")
	if h == nil {
		return 0, len(req.Body()), false
	}
	declared, err := strconv.Atoi(strings.TrimSpace(h.Value()))
	if err != nil {
		return 0, len(req.Body()), false
	}
	actual = len(req.Body())
	return declared, actual, declared != actual
}

// HasRequiredHeaders reports whether req carries every header spec.md
// §4.2 requires for a well-formed request: Via, From, To, Call-ID,
// CSeq. The SIP engine discards a request silently when this is false.
func HasRequiredHeaders(req *sip.Request) bool {
	if req.Via() == nil || req.From() == nil || req.To() == nil {
		return false
	}
	if req.CallID() == nil || req.CSeq() == nil {
		return false
	}
	return true
}
