package realtime

import "encoding/json"

// envelope is the minimal shape every inbound AI message shares: a
// "type" discriminator. Per DESIGN NOTES §9, the source treats these
// messages as structurally dynamic; here they're a tagged union with
// an explicit "unknown" fall-through rather than a stringly-typed map.
type envelope struct {
	Type string `json:"type"`
}

// inboundKind is the discriminated message kind after dispatch.
type inboundKind int

const (
	kindUnknown inboundKind = iota
	kindSessionCreated
	kindSessionUpdated
	kindSpeechStarted
	kindSpeechStopped
	kindAudioDelta
	kindAudioDone
	kindResponseDone
	kindFunctionCallArgsDone
	kindError
)

func classify(msgType string) inboundKind {
	switch msgType {
	case "session.created":
		return kindSessionCreated
	case "session.updated":
		return kindSessionUpdated
	case "input_audio_buffer.speech_started":
		return kindSpeechStarted
	case "input_audio_buffer.speech_stopped":
		return kindSpeechStopped
	case "response.audio.delta":
		return kindAudioDelta
	case "response.audio.done":
		return kindAudioDone
	case "response.done":
		return kindResponseDone
	case "response.function_call_arguments.done":
		return kindFunctionCallArgsDone
	case "error":
		return kindError
	default:
		return kindUnknown
	}
}

type sessionPayload struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type audioDeltaPayload struct {
	Delta string `json:"delta"`
}

type functionCallPayload struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// turnDetection is the server-VAD configuration from spec.md §4.5.
type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type toolDef struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// sessionUpdatePayload is the outbound session.update body.
type sessionUpdatePayload struct {
	Modalities        []string      `json:"modalities"`
	Instructions      string        `json:"instructions"`
	Voice             string        `json:"voice"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	TurnDetection     turnDetection `json:"turn_detection"`
	Tools             []toolDef     `json:"tools,omitempty"`
	Temperature       float64       `json:"temperature"`
	MaxOutputTokens   int           `json:"max_response_output_tokens"`
}

func transferCallTool() toolDef {
	return toolDef{
		Type:        "function",
		Name:        "transfer_call",
		Description: "Transfer the active call to another extension.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"extension":{"type":"string"}},"required":["extension"]}`),
	}
}

func endCallTool() toolDef {
	return toolDef{
		Type:        "function",
		Name:        "end_call",
		Description: "End the active call.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

type outboundEnvelope struct {
	Type    string `json:"type"`
	Session any    `json:"session,omitempty"`
}

type audioAppendPayload struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type conversationItemPayload struct {
	Type string `json:"type"`
	Item struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"item"`
}

type responseCreatePayload struct {
	Type string `json:"type"`
}
