// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestNewProviderDisabled(t *testing.T) {
	cfg := Config{
		Enabled:     false,
		ServiceName: "streamjuke-test",
		Protocol:    "grpc",
	}

	provider, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if provider.tp != nil {
		t.Error("expected noop provider (tp == nil)")
	}

	tracer := otel.Tracer("disabled-check")
	_, span := tracer.Start(context.Background(), "noop-span")
	if span.IsRecording() {
		t.Error("expected noop span to be non-recording")
	}
	span.End()
}

func TestNewProviderUnknownProtocol(t *testing.T) {
	cfg := Config{
		Enabled:     true,
		ServiceName: "streamjuke-test",
		Protocol:    "carrier-pigeon",
	}

	_, err := NewProvider(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}

	want := `telemetry: unsupported otlp protocol "carrier-pigeon" (supported: grpc, http)`
	if err.Error() != want {
		t.Errorf("expected error %q, got %q", want, err.Error())
	}
}

func TestNewProviderSampleRatios(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
	}{
		{name: "keep everything", ratio: 1.0},
		{name: "keep nothing", ratio: 0.0},
		{name: "keep half", ratio: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Disabled keeps the constructor off the network; the ratio
			// switch still runs for enabled configs only, so this pins
			// construction rather than sampler selection.
			cfg := Config{
				Enabled:     false,
				ServiceName: "streamjuke-test",
				Protocol:    "grpc",
				SampleRatio: tt.ratio,
			}

			provider, err := NewProvider(context.Background(), cfg)
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if provider == nil {
				t.Fatal("expected non-nil provider")
			}
		})
	}
}

func TestProviderShutdownNoop(t *testing.T) {
	provider := &Provider{tp: nil}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no error on noop shutdown, got: %v", err)
	}
}

func TestProviderShutdownCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &Provider{tp: nil}
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("expected no error on noop shutdown with canceled context, got: %v", err)
	}
}

func TestTracer(t *testing.T) {
	cfg := Config{
		Enabled:     false,
		ServiceName: "streamjuke-test",
	}
	if _, err := NewProvider(context.Background(), cfg); err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	tracer := Tracer("pipeline-test")
	if tracer == nil {
		t.Fatal("expected non-nil tracer")
	}

	ctx, span := tracer.Start(context.Background(), "test-span")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()

	if trace.SpanFromContext(ctx) == nil {
		t.Error("expected span in context")
	}
}

func TestProviderConcurrentShutdown(t *testing.T) {
	provider := &Provider{tp: nil}

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = provider.Shutdown(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
}
