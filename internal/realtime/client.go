// Package realtime implements the AI realtime WebSocket client from
// spec.md §4.5 (component C5): connection lifecycle, the session.update
// configuration handshake, the bounded audio egress queue, inbound
// message dispatch, and exponential-backoff reconnection. The teacher
// has no WebSocket client of its own (only sipgo's transitive
// dependency on gobwas/ws for its own WS transport option); this
// package is grounded directly on spec.md §4.5/§6 and gobwas/ws's
// published client idiom, using the same net/http-header-based auth
// pattern the teacher uses for its gRPC client credentials.
package realtime

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/sebas/sip-ai-bridge/internal/config"
)

const (
	egressQueueCap  = 50
	pingInterval    = 30 * time.Second
	pongWait        = 5 * time.Second
	reconnectBase   = 1 * time.Second
	reconnectFactor = 2
	reconnectCap    = 30 * time.Second
	maxReconnects   = 10
)

// Client owns one call's WebSocket to the AI provider. Each Session
// constructs its own Client so that the AI session lifecycle tracks the
// call's lifecycle one-to-one, per spec.md §3's "each Session
// exclusively owns its... AI session" (a provider realtime socket
// already carries one conversation context, so concurrent calls cannot
// share a connection). Reconnects inside Connect are transparent to the
// owning call; the egress queue belongs to this connection alone.
type Client struct {
	cfg *config.Config

	// Hooks invoked from the dispatch loop; set before Connect.
	OnSessionUpdated func()
	OnSpeechStarted  func()
	OnSpeechStopped  func()
	OnAudioDelta     func(pcmPayload []byte)
	OnResponseDone   func()
	OnFunctionCall   func(name, callID, argumentsJSON string)
	OnFatalError     func(err error)
	OnDisconnected   func()

	mu         sync.Mutex
	conn       net.Conn
	br         *bufio.Reader
	rw         io.ReadWriter
	configured bool
	closing    bool

	queueMu sync.Mutex
	queue   [][]byte // base64 audio payloads awaiting configured flag

	lastPong atomic.Int64 // unix nanos, set from the read loop
}

// bufConnReadWriter pairs the dialer's buffered reader (which may hold
// bytes already read past the handshake) with the connection's writer,
// satisfying io.ReadWriter for wsutil calls that need to write control
// frames (e.g. pong) in response to reads.
type bufConnReadWriter struct {
	br   *bufio.Reader
	conn net.Conn
}

func (b bufConnReadWriter) Read(p []byte) (int, error)  { return b.br.Read(p) }
func (b bufConnReadWriter) Write(p []byte) (int, error) { return b.conn.Write(p) }

// New creates a Client from configuration. Call Connect to establish
// the WebSocket and run its lifecycle until ctx is cancelled.
func New(cfg *config.Config) *Client {
	return &Client{cfg: cfg}
}

// Connect establishes the WebSocket, performs the session.update
// handshake, and runs the read/ping loops until ctx is cancelled,
// reconnecting with exponential backoff on any failure. It returns
// only when ctx is done or the reconnect budget (10 attempts, §4.5) is
// exhausted.
func (c *Client) Connect(ctx context.Context) error {
	backoff := reconnectBase
	for attempt := 0; attempt < maxReconnects; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// runOnce only returns nil when ctx ended; otherwise it's
			// always an error describing the disconnect.
			return nil
		}
		slog.Warn("realtime: connection lost, reconnecting", "attempt", attempt+1, "error", err, "backoff", backoff)
		if c.OnDisconnected != nil {
			c.OnDisconnected()
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= reconnectFactor
		if backoff > reconnectCap {
			backoff = reconnectCap
		}
	}
	return fmt.Errorf("realtime: exhausted %d reconnect attempts", maxReconnects)
}

func (c *Client) runOnce(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.AIAPIKey)

	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(header),
	}
	conn, br, _, err := dialer.Dial(ctx, c.cfg.AIRealtimeURL)
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.br = br
	c.rw = bufConnReadWriter{br: br, conn: conn}
	c.configured = false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if err := c.sendSessionUpdate(); err != nil {
		return fmt.Errorf("realtime: session.update: %w", err)
	}

	c.lastPong.Store(time.Now().UnixNano())

	errCh := make(chan error, 1)
	go func() { errCh <- c.readLoop() }()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.sendClose()
			return nil
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			if err := c.sendPing(); err != nil {
				return fmt.Errorf("realtime: ping write: %w", err)
			}
			last := time.Unix(0, c.lastPong.Load())
			if time.Since(last) > pingInterval+pongWait {
				return fmt.Errorf("realtime: no pong within %s", pongWait)
			}
		}
	}
}

func (c *Client) readLoop() error {
	for {
		msg, op, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			return fmt.Errorf("realtime: read: %w", err)
		}
		switch op {
		case ws.OpPong:
			c.lastPong.Store(time.Now().UnixNano())
			continue
		case ws.OpClose:
			return fmt.Errorf("realtime: server closed connection")
		case ws.OpText:
			c.dispatch(msg)
		}
	}
}

func (c *Client) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("realtime: malformed inbound message", "error", err)
		return
	}

	switch classify(env.Type) {
	case kindSessionCreated:
		slog.Debug("realtime: session.created")
	case kindSessionUpdated:
		c.mu.Lock()
		c.configured = true
		c.mu.Unlock()
		c.flushQueue()
		if c.OnSessionUpdated != nil {
			c.OnSessionUpdated()
		}
	case kindSpeechStarted:
		if c.OnSpeechStarted != nil {
			c.OnSpeechStarted()
		}
	case kindSpeechStopped:
		if c.OnSpeechStopped != nil {
			c.OnSpeechStopped()
		}
	case kindAudioDelta:
		var p audioDeltaPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			slog.Warn("realtime: malformed response.audio.delta", "error", err)
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(p.Delta)
		if err != nil {
			slog.Warn("realtime: bad base64 in response.audio.delta", "error", err)
			return
		}
		if c.OnAudioDelta != nil {
			c.OnAudioDelta(decoded)
		}
	case kindAudioDone, kindResponseDone:
		if c.OnResponseDone != nil {
			c.OnResponseDone()
		}
	case kindFunctionCallArgsDone:
		var p functionCallPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			slog.Warn("realtime: malformed function call payload", "error", err)
			return
		}
		if c.OnFunctionCall != nil {
			c.OnFunctionCall(p.Name, p.CallID, p.Arguments)
		}
	case kindError:
		var p errorPayload
		_ = json.Unmarshal(raw, &p)
		slog.Warn("realtime: server error", "type", p.Error.Type, "code", p.Error.Code, "message", p.Error.Message)
		if isFatalErrorCode(p.Error.Code) && c.OnFatalError != nil {
			c.OnFatalError(fmt.Errorf("realtime: %s: %s", p.Error.Code, p.Error.Message))
		}
	default:
		slog.Debug("realtime: unrecognized message type", "type", env.Type)
	}
}

// isFatalErrorCode reports whether an error code indicates the session
// itself is no longer usable, per spec.md §4.5's dispatch rule ("error:
// surface to session as fatal if code indicates session invalidation,
// else log and continue").
func isFatalErrorCode(code string) bool {
	switch code {
	case "session_expired", "invalid_session", "session_not_found":
		return true
	default:
		return false
	}
}

func (c *Client) sendSessionUpdate() error {
	tools := []toolDef{transferCallTool(), endCallTool()}
	payload := outboundEnvelope{
		Type: "session.update",
		Session: sessionUpdatePayload{
			Modalities:        []string{"text", "audio"},
			Instructions:      c.cfg.AIInstructions,
			Voice:             c.cfg.AIVoice,
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.3,
				PrefixPaddingMs:   200,
				SilenceDurationMs: 400,
			},
			Tools:           tools,
			Temperature:     0.8,
			MaxOutputTokens: 4096,
		},
	}
	return c.writeJSON(payload)
}

// SendAudio appends a frame of encoded G.711 audio to the AI input
// buffer, gating on the configured flag per spec.md §4.5: while
// unconfigured, the frame is queued (drop-oldest at capacity 50) and
// flushed in FIFO order once session.updated arrives.
func (c *Client) SendAudio(encoded []byte) {
	payload := base64.StdEncoding.EncodeToString(encoded)

	c.mu.Lock()
	configured := c.configured
	c.mu.Unlock()

	if !configured {
		c.enqueue([]byte(payload))
		return
	}
	if err := c.writeAudioAppend(payload); err != nil {
		slog.Warn("realtime: failed to send audio frame", "error", err)
	}
}

func (c *Client) enqueue(payload []byte) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) >= egressQueueCap {
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, payload)
}

func (c *Client) flushQueue() {
	c.queueMu.Lock()
	pending := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	for _, payload := range pending {
		if err := c.writeAudioAppend(string(payload)); err != nil {
			slog.Warn("realtime: failed to flush queued audio frame", "error", err)
			return
		}
	}
}

func (c *Client) writeAudioAppend(base64Payload string) error {
	return c.writeJSON(audioAppendPayload{Type: "input_audio_buffer.append", Audio: base64Payload})
}

// SendWelcome requests the configured welcome-prompt response, per
// spec.md §4.4 step 8. With text set, it primes the conversation with
// a synthetic user turn before asking for a response; called with an
// empty string it just asks the model to speak first, relying on the
// session.update instructions to shape what it opens with.
func (c *Client) SendWelcome(text string) error {
	if text != "" {
		item := conversationItemPayload{Type: "conversation.item.create"}
		item.Item.Type = "message"
		item.Item.Role = "user"
		item.Item.Content = []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{{Type: "input_text", Text: text}}

		if err := c.writeJSON(item); err != nil {
			return err
		}
	}
	return c.writeJSON(responseCreatePayload{Type: "response.create"})
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	return wsutil.WriteClientMessage(conn, ws.OpText, data)
}

func (c *Client) sendPing() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	return wsutil.WriteClientMessage(conn, ws.OpPing, nil)
}

func (c *Client) sendClose() {
	c.mu.Lock()
	conn := c.conn
	closing := c.closing
	c.closing = true
	c.mu.Unlock()
	if conn == nil || closing {
		return
	}
	_ = wsutil.WriteClientMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
}
