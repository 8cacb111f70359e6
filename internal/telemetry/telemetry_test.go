package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}
	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, field := range fields {
		if field == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("trace context propagation not installed, fields %v", fields)
	}
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name  string
		in    Config
		ratio float64
	}{
		{"zero ratio samples everything", Config{}, 1},
		{"ratio above one is clamped", Config{SampleRatio: 3}, 1},
		{"valid ratio kept", Config{SampleRatio: 0.25}, 0.25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.in
			cfg.applyDefaults()
			if cfg.SampleRatio != tc.ratio {
				t.Fatalf("expected ratio %v, got %v", tc.ratio, cfg.SampleRatio)
			}
			if cfg.ServiceName != "meditoken" || cfg.Environment != "development" {
				t.Fatalf("unexpected defaults %+v", cfg)
			}
		})
	}
}
