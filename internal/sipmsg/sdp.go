package sipmsg

import (
	"fmt"

	psdp "github.com/pion/sdp/v3"
)

// Offer is the subset of an inbound SDP offer the bridge needs: the
// caller's RTP endpoint and the payload types it advertised, in the
// order offered (first match wins when negotiating the answer).
type Offer struct {
	RemoteHost    string
	RemotePort    int
	PayloadTypes  []uint8
}

// ParseOffer parses an SDP offer body per spec.md §4.2: recognized by
// Content-Type application/sdp at the caller, parsed here into
// connection (c=) and the first audio media line's port and formats.
// Grounded on the teacher's extractSDPInfo in
// internal/signaling/routing/invite.go.
func ParseOffer(body []byte) (Offer, error) {
	var sdp psdp.SessionDescription
	if err := sdp.Unmarshal(body); err != nil {
		return Offer{}, fmt.Errorf("sipmsg: failed to parse SDP: %w", err)
	}
	if len(sdp.MediaDescriptions) == 0 {
		return Offer{}, fmt.Errorf("sipmsg: no media descriptions in SDP")
	}

	var audio *psdp.MediaDescription
	for _, md := range sdp.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			audio = md
			break
		}
	}
	if audio == nil {
		return Offer{}, fmt.Errorf("sipmsg: no audio media description in SDP")
	}

	offer := Offer{RemotePort: audio.MediaName.Port.Value}

	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		offer.RemoteHost = audio.ConnectionInformation.Address.Address
	} else if sdp.ConnectionInformation != nil && sdp.ConnectionInformation.Address != nil {
		offer.RemoteHost = sdp.ConnectionInformation.Address.Address
	}
	if offer.RemoteHost == "" {
		return Offer{}, fmt.Errorf("sipmsg: no connection address in SDP")
	}

	for _, f := range audio.MediaName.Formats {
		var pt int
		if _, err := fmt.Sscanf(f, "%d", &pt); err == nil {
			offer.PayloadTypes = append(offer.PayloadTypes, uint8(pt))
		}
	}
	return offer, nil
}

// rtpmapByPayloadType names the codecs this bridge answers with, per
// spec.md §6's SDP answer template. telephone-event is included so an
// offer that leads with DTMF doesn't accidentally get negotiated as
// the primary codec while still being acknowledged as supported.
var rtpmapByPayloadType = map[uint8]string{
	0:   "PCMU/8000",
	8:   "PCMA/8000",
	101: "telephone-event/8000",
}

// BuildAnswer constructs the SDP answer body for localHost:localPort
// offering exactly payloadType (plus telephone-event for DTMF
// passthrough awareness), per spec.md §6's minimum answer template.
// Grounded on the teacher's services/rtpmanager/sdp/builder.go.
func BuildAnswer(localHost string, localPort int, payloadType uint8) ([]byte, error) {
	name, ok := rtpmapByPayloadType[payloadType]
	if !ok {
		return nil, fmt.Errorf("sipmsg: unsupported answer payload type %d", payloadType)
	}

	formats := []string{fmt.Sprintf("%d", payloadType), "101"}
	attrs := []psdp.Attribute{
		{Key: "rtpmap", Value: fmt.Sprintf("%d %s", payloadType, name)},
		{Key: "rtpmap", Value: "101 telephone-event/8000"},
		{Key: "fmtp", Value: "101 0-15"},
		{Key: "ptime", Value: "20"},
		{Key: "sendrecv"},
	}

	desc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "bridge",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localHost,
		},
		SessionName: psdp.SessionName("sip-ai-bridge"),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: localHost},
		},
		TimeDescriptions: []psdp.TimeDescription{{Timing: psdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "audio",
					Port:    psdp.RangedPort{Value: localPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}

	return desc.Marshal()
}

// NegotiateCodec picks the first mutually supported payload type from
// offered, in the offer's order, falling back to μ-law if none of the
// bridge's supported codecs (PCMU, PCMA) were offered.
func NegotiateCodec(offered []uint8) (uint8, bool) {
	for _, pt := range offered {
		if pt == 0 || pt == 8 {
			return pt, true
		}
	}
	return 0, len(offered) > 0
}
