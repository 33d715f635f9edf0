package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithMerchantID(ctx, "m-1")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"merchant_id\":\"m-1\"")) {
		t.Fatalf("expected merchant_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack trace on error; entry=%s", buf.String())
	}
}

func TestLoggerWithEventFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithEvent(context.Background(), "evt-1", "order_created")
	log.Info(ctx, "projected")

	for _, want := range []string{"\"event_id\":\"evt-1\"", "\"event_type\":\"order_created\""} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("expected %s in entry=%s", want, buf.String())
		}
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" DEBUG "); lvl != zerolog.DebugLevel {
		t.Fatalf("expected debug, got %v", lvl)
	}
}

func TestLoggerConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Format: " Console ", Output: buf})
	log.Info(context.Background(), "sweep done")

	if bytes.HasPrefix(buf.Bytes(), []byte("{")) {
		t.Fatalf("expected console output, got json: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("sweep done")) {
		t.Fatalf("message missing from console entry=%s", buf.String())
	}
}

func TestDerivedContextDoesNotLeakFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	parent := log.WithJob(context.Background(), "projection-sweep")
	child := log.WithFields(parent, map[string]any{"batch": 3})

	log.Info(child, "child")
	if !bytes.Contains(buf.Bytes(), []byte(`"job":"projection-sweep"`)) || !bytes.Contains(buf.Bytes(), []byte(`"batch":3`)) {
		t.Fatalf("child should carry both fields; entry=%s", buf.String())
	}

	buf.Reset()
	log.Info(parent, "parent")
	if bytes.Contains(buf.Bytes(), []byte(`"batch"`)) {
		t.Fatalf("parent picked up child field; entry=%s", buf.String())
	}
}
