// Package logger bootstraps the process-wide slog logger and bridges
// sipgo's internal zerolog output into the same stream, so every log
// line - ours and the SIP stack's - comes out through one sink with a
// consistent shape.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Init installs the process-wide slog default logger at levelStr
// ("debug", "info", "warn", "error"). format "console" writes a
// human-readable line; anything else (including "json", the default)
// writes structured JSON, matching how the teacher's TUI/JSON logger
// split behaves.
func Init(levelStr, format string) {
	level := ParseLevel(levelStr)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ParseLevel converts a config string into an slog.Level, defaulting
// to Info for anything unrecognized.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SIPStackWriter is an io.Writer meant to be handed to sipgo as its log
// sink. sipgo logs through rs/zerolog internally and emits one JSON
// object per line; this writer parses each line and re-emits it through
// slog so it gets the same timestamping, level filtering and output
// format as the rest of the process.
type SIPStackWriter struct{}

// Write implements io.Writer, translating zerolog JSON lines to slog
// records. Lines that are not JSON (unexpected, but sipgo is vendored
// code we don't control) are passed through as a single Info record.
func (SIPStackWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return len(p), nil
	}
	if !strings.HasPrefix(line, "{") {
		slog.Info(line, "event", "sip_stack")
		return len(p), nil
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		slog.Info(line, "event", "sip_stack")
		return len(p), nil
	}

	level := slog.LevelInfo
	if lv, ok := entry["level"].(string); ok {
		switch lv {
		case "debug", "trace":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error", "fatal", "panic":
			level = slog.LevelError
		}
	}
	msg, _ := entry["message"].(string)
	if msg == "" {
		msg = "sip stack event"
	}

	args := make([]any, 0, len(entry)*2+2)
	args = append(args, "event", "sip_stack")
	for k, v := range entry {
		switch k {
		case "level", "message", "time":
			continue
		}
		args = append(args, k, v)
	}

	slog.Log(context.Background(), level, msg, args...)
	return len(p), nil
}

var _ io.Writer = SIPStackWriter{}

// RequestLogArgs builds a consistent slog attribute set for SIP request
// lifecycle logging, so every call site (registration, dialog, keepalive)
// tags its records the same way.
func RequestLogArgs(event, callID string, extra ...any) []any {
	args := []any{"event", event, "call_id", callID, "ts", time.Now().Format(time.RFC3339)}
	return append(args, extra...)
}

// Errorf is a small helper used at package boundaries that need to both
// log and return an error, avoiding the double-message spam of logging
// the error and then wrapping it again one frame up.
func Errorf(event string, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	slog.Error(msg, "event", event, "error", err)
	return fmt.Errorf("%s: %w", msg, err)
}
