// pkg/logger/logger_test.go
package logger_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/YaganovValera/nodestream/pkg/logger"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"", false},
		{"debug", false},
		{"warn", false},
		{"invalid", true},
	}
	for _, tc := range tests {
		_, err := logger.New(logger.Config{Level: tc.level, Service: "nodestream"})
		if (err != nil) != tc.wantErr {
			t.Errorf("level %q: unexpected error state: %v", tc.level, err)
		}
	}
}

func TestWithContext_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := logger.FromZap(zap.New(core))

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid,
	}))
	ctx = logger.ContextWithRequestID(ctx, "req-1")
	ctx = logger.ContextWithSessionID(ctx, "a3d5c1e2-0000-4000-8000-000000000001")

	l.WithContext(ctx).Info("poll")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	want := map[string]string{
		"trace_id":   tid.String(),
		"request_id": "req-1",
		"session_id": "a3d5c1e2-0000-4000-8000-000000000001",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s: expected %q, got %v", k, v, fields[k])
		}
	}
}

func TestWithContext_EmptyReturnsSame(t *testing.T) {
	l := logger.NewNop()
	if got := l.WithContext(context.Background()); got != l {
		t.Error("expected the same logger for an empty context")
	}
}

func TestNop_NoPanic(t *testing.T) {
	l := logger.NewNop().Named("x").With(zap.String("k", "v"))
	l.Debug("d")
	l.Error("e")
	l.Sync()
}
