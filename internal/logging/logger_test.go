package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &Logger{
		level:  level,
		out:    buf,
		fields: map[string]any{"service": "test"},
		exit:   func(int) {},
	}, buf
}

func TestLoggerEmitsStructuredJSON(t *testing.T) {
	logger, buf := newBufferLogger(InfoLevel)
	logger.Info("session connected",
		String("session_id", "sess-1"),
		Int("count", 3),
		Duration("idle", 90*time.Second))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["level"] != "info" || entry["message"] != "session connected" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["session_id"] != "sess-1" || entry["idle"] != "1m30s" {
		t.Fatalf("fields missing from entry %v", entry)
	}
	if entry["service"] != "test" {
		t.Fatalf("bound field missing from entry %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatal("entry has no timestamp")
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	logger, buf := newBufferLogger(WarnLevel)
	logger.Debug("hidden")
	logger.Info("hidden too")
	if buf.Len() != 0 {
		t.Fatalf("low levels leaked: %s", buf.String())
	}
	logger.Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatal("warn message missing")
	}
}

func TestWithBindsFields(t *testing.T) {
	logger, buf := newBufferLogger(InfoLevel)
	child := logger.With(String("session_id", "sess-9"))
	child.Info("touched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["session_id"] != "sess-9" {
		t.Fatalf("bound field missing: %v", entry)
	}

	//1.- The parent is unchanged.
	buf.Reset()
	logger.Info("bare")
	entry = map[string]any{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := entry["session_id"]; ok {
		t.Fatal("child field leaked into parent")
	}
}

func TestFatalInvokesExit(t *testing.T) {
	logger, _ := newBufferLogger(InfoLevel)
	code := -1
	logger.exit = func(c int) { code = c }
	logger.Fatal("boom")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"fatal":   FatalLevel,
		"":        InfoLevel,
	} {
		got, err := parseLevel(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q = %v, want %v", raw, got, want)
		}
	}
	if _, err := parseLevel("verbose"); err == nil {
		t.Fatal("unknown level accepted")
	}
}

func TestWithTracePropagatesIdentifier(t *testing.T) {
	logger, buf := newBufferLogger(DebugLevel)
	ctx, derived, traceID := WithTrace(context.Background(), logger, "")
	if traceID == "" {
		t.Fatal("trace id was not generated")
	}
	if got := TraceIDFromContext(ctx); got != traceID {
		t.Fatalf("context trace id = %q, want %q", got, traceID)
	}
	if LoggerFromContext(ctx) != derived {
		t.Fatal("derived logger not stored in context")
	}

	derived.Info("traced")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[TraceIDField] != traceID {
		t.Fatalf("trace field = %v, want %q", entry[TraceIDField], traceID)
	}

	//1.- An incoming id is preserved, not regenerated.
	_, _, kept := WithTrace(context.Background(), logger, "abc123")
	if kept != "abc123" {
		t.Fatalf("incoming trace id replaced with %q", kept)
	}
}

func TestHTTPTraceMiddlewareSetsHeader(t *testing.T) {
	logger, _ := newBufferLogger(InfoLevel)
	var seen string
	handler := HTTPTraceMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if seen == "" {
		t.Fatal("handler saw no trace id")
	}
	if got := rec.Header().Get(TraceIDHeader); got != seen {
		t.Fatalf("response header %q, want %q", got, seen)
	}
}
