package daemon

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := setupTracing(TelemetryConfig{})
	if err != nil {
		t.Fatalf("setupTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown returned %v", err)
	}
}

func TestInstallTracer_ExportsSpans(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var buf bytes.Buffer
	shutdown, err := installTracer(&buf)
	if err != nil {
		t.Fatalf("installTracer: %v", err)
	}

	_, span := otel.Tracer("xpcore-test").Start(context.Background(), "award-span")
	span.End()

	// Shutdown flushes the batcher.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "award-span") {
		t.Errorf("exported output does not contain the span name:\n%s", buf.String())
	}
}
