package logging

import (
	"bytes"
	"context"
	"testing"

	"biopatrol/internal/observability"
)

func TestOrNopHandlesNilInterface(t *testing.T) {
	var logger Logger
	if !IsNil(logger) {
		t.Fatalf("expected nil interface to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world") // should not panic
}

func TestFromObservabilityFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "text",
		Output: buf,
	})

	logger := FromObservabilityWithComponent(base, "test")
	logger.Info("hello %s", "world")

	if got := buf.String(); got == "" {
		t.Fatalf("expected log output")
	}
	if want := "hello world"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
}

func TestWithContextStampsTaskAndRobotID(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{Format: "json", Output: buf})
	logger := FromObservabilityWithComponent(base, "engine")

	ctx := observability.ContextWithTaskID(context.Background(), "task-1")
	ctx = observability.ContextWithRobotID(ctx, "robot-1")

	WithContext(logger, ctx).Info("starting task")

	got := buf.String()
	if !bytes.Contains([]byte(got), []byte(`"task_id":"task-1"`)) {
		t.Fatalf("expected task_id in output, got %q", got)
	}
	if !bytes.Contains([]byte(got), []byte(`"robot_id":"robot-1"`)) {
		t.Fatalf("expected robot_id in output, got %q", got)
	}
}

func TestWithContextIsNoOpForNonContextAwareLoggers(t *testing.T) {
	ctx := observability.ContextWithTaskID(context.Background(), "task-1")

	if got := WithContext(Nop(), ctx); got == nil {
		t.Fatalf("expected a usable logger back")
	}
}

func TestMultiFansOutToEveryLogger(t *testing.T) {
	buf1 := &bytes.Buffer{}
	buf2 := &bytes.Buffer{}
	l1 := FromObservabilityWithComponent(observability.NewLogger(observability.LogConfig{Format: "text", Output: buf1}), "a")
	l2 := FromObservabilityWithComponent(observability.NewLogger(observability.LogConfig{Format: "text", Output: buf2}), "b")

	Multi(l1, l2).Warn("shelf %s dropped", "shelf-1")

	if !bytes.Contains(buf1.Bytes(), []byte("shelf-1 dropped")) {
		t.Fatalf("expected first logger to receive message, got %q", buf1.String())
	}
	if !bytes.Contains(buf2.Bytes(), []byte("shelf-1 dropped")) {
		t.Fatalf("expected second logger to receive message, got %q", buf2.String())
	}
}
