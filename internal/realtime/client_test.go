package realtime

import (
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/sebas/sip-ai-bridge/internal/config"
)

func TestEnqueueDropsOldestAtCapacity(t *testing.T) {
	c := &Client{cfg: &config.Config{}}
	for i := 0; i < egressQueueCap+5; i++ {
		c.enqueue([]byte(fmt.Sprintf("frame-%d", i)))
	}
	if len(c.queue) != egressQueueCap {
		t.Fatalf("queue length = %d, want %d", len(c.queue), egressQueueCap)
	}
	if string(c.queue[0]) != "frame-5" {
		t.Errorf("oldest surviving frame = %q, want frame-5", c.queue[0])
	}
	last := egressQueueCap + 5 - 1
	if string(c.queue[len(c.queue)-1]) != fmt.Sprintf("frame-%d", last) {
		t.Errorf("newest frame = %q, want frame-%d", c.queue[len(c.queue)-1], last)
	}
}

func TestFlushQueueEmitsAppendsInFIFOOrder(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c := &Client{cfg: &config.Config{}, conn: clientSide}
	c.enqueue([]byte("AAA="))
	c.enqueue([]byte("BBB="))
	c.enqueue([]byte("CCC="))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.flushQueue()
	}()

	var got []string
	for i := 0; i < 3; i++ {
		raw, _, err := wsutil.ReadClientData(serverSide)
		if err != nil {
			t.Fatalf("ReadClientData: %v", err)
		}
		var p audioAppendPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if p.Type != "input_audio_buffer.append" {
			t.Errorf("frame %d type = %q, want input_audio_buffer.append", i, p.Type)
		}
		got = append(got, p.Audio)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flushQueue did not complete")
	}

	want := []string{"AAA=", "BBB=", "CCC="}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("flush order[%d] = %q, want %q", i, got[i], w)
		}
	}
	if len(c.queue) != 0 {
		t.Errorf("queue not drained, len = %d", len(c.queue))
	}
}

func TestSendAudioQueuesWhileUnconfigured(t *testing.T) {
	c := &Client{cfg: &config.Config{}}
	c.SendAudio([]byte{0x01, 0x02, 0x03})
	if len(c.queue) != 1 {
		t.Fatalf("queue length = %d, want 1", len(c.queue))
	}
}

func TestSendAudioWritesDirectlyWhenConfigured(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c := &Client{cfg: &config.Config{}, conn: clientSide, configured: true}

	go c.SendAudio([]byte{0xAA, 0xBB})

	raw, _, err := wsutil.ReadClientData(serverSide)
	if err != nil {
		t.Fatalf("ReadClientData: %v", err)
	}
	var p audioAppendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Type != "input_audio_buffer.append" {
		t.Errorf("type = %q, want input_audio_buffer.append", p.Type)
	}
	if len(c.queue) != 0 {
		t.Errorf("queue should stay empty when configured, got len %d", len(c.queue))
	}
}

func TestDispatchRoutesSessionUpdatedAndFlushesQueue(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c := &Client{cfg: &config.Config{}, conn: clientSide}
	c.enqueue([]byte("queued="))

	var gotUpdated bool
	c.OnSessionUpdated = func() { gotUpdated = true }

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.dispatch([]byte(`{"type":"session.updated"}`))
	}()

	raw, _, err := wsutil.ReadClientData(serverSide)
	if err != nil {
		t.Fatalf("ReadClientData: %v", err)
	}
	var p audioAppendPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Audio != "queued=" {
		t.Errorf("flushed audio = %q, want queued=", p.Audio)
	}

	<-done
	if !gotUpdated {
		t.Error("OnSessionUpdated was not invoked")
	}
	if !c.configured {
		t.Error("configured flag not set after session.updated")
	}
}

func TestDispatchRoutesAudioDelta(t *testing.T) {
	c := &Client{cfg: &config.Config{}}
	var got []byte
	c.OnAudioDelta = func(pcm []byte) { got = pcm }

	payload := `{"type":"response.audio.delta","delta":"aGVsbG8="}`
	c.dispatch([]byte(payload))

	if string(got) != "hello" {
		t.Errorf("decoded audio delta = %q, want hello", got)
	}
}

func TestDispatchRoutesFunctionCall(t *testing.T) {
	c := &Client{cfg: &config.Config{}}
	var gotName, gotCallID, gotArgs string
	c.OnFunctionCall = func(name, callID, args string) {
		gotName, gotCallID, gotArgs = name, callID, args
	}

	payload := `{"type":"response.function_call_arguments.done","call_id":"call_1","name":"transfer_call","arguments":"{\"extension\":\"200\"}"}`
	c.dispatch([]byte(payload))

	if gotName != "transfer_call" || gotCallID != "call_1" || gotArgs != `{"extension":"200"}` {
		t.Errorf("got name=%q callID=%q args=%q", gotName, gotCallID, gotArgs)
	}
}

func TestDispatchIgnoresUnknownType(t *testing.T) {
	c := &Client{cfg: &config.Config{}}
	c.dispatch([]byte(`{"type":"some.future.event"}`))
}

func TestDispatchFatalErrorInvokesCallback(t *testing.T) {
	c := &Client{cfg: &config.Config{}}
	var gotErr error
	c.OnFatalError = func(err error) { gotErr = err }

	c.dispatch([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"session_expired","message":"expired"}}`))

	if gotErr == nil {
		t.Fatal("expected OnFatalError to be invoked")
	}
}

func TestDispatchNonFatalErrorDoesNotInvokeCallback(t *testing.T) {
	c := &Client{cfg: &config.Config{}}
	var called bool
	c.OnFatalError = func(err error) { called = true }

	c.dispatch([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"rate_limit_exceeded","message":"slow down"}}`))

	if called {
		t.Error("OnFatalError should not fire for a non-fatal error code")
	}
}
