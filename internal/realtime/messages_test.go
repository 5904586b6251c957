package realtime

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		msgType string
		want    inboundKind
	}{
		{"session.created", kindSessionCreated},
		{"session.updated", kindSessionUpdated},
		{"input_audio_buffer.speech_started", kindSpeechStarted},
		{"input_audio_buffer.speech_stopped", kindSpeechStopped},
		{"response.audio.delta", kindAudioDelta},
		{"response.audio.done", kindAudioDone},
		{"response.done", kindResponseDone},
		{"response.function_call_arguments.done", kindFunctionCallArgsDone},
		{"error", kindError},
		{"some.unrecognized.event", kindUnknown},
		{"", kindUnknown},
	}
	for _, c := range cases {
		if got := classify(c.msgType); got != c.want {
			t.Errorf("classify(%q) = %v, want %v", c.msgType, got, c.want)
		}
	}
}

func TestToolDefinitions(t *testing.T) {
	transfer := transferCallTool()
	if transfer.Name != "transfer_call" || transfer.Type != "function" {
		t.Errorf("transferCallTool = %+v", transfer)
	}
	if len(transfer.Parameters) == 0 {
		t.Error("transferCallTool: empty parameters schema")
	}

	end := endCallTool()
	if end.Name != "end_call" || end.Type != "function" {
		t.Errorf("endCallTool = %+v", end)
	}
}

func TestIsFatalErrorCode(t *testing.T) {
	fatal := []string{"session_expired", "invalid_session", "session_not_found"}
	for _, code := range fatal {
		if !isFatalErrorCode(code) {
			t.Errorf("isFatalErrorCode(%q) = false, want true", code)
		}
	}
	nonFatal := []string{"rate_limit_exceeded", "invalid_request", ""}
	for _, code := range nonFatal {
		if isFatalErrorCode(code) {
			t.Errorf("isFatalErrorCode(%q) = true, want false", code)
		}
	}
}
