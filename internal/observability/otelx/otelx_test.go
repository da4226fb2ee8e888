package otelx

import (
	"context"
	"testing"

	"github.com/bakkerme/ghsearch-feed/internal/config"
)

func TestInitDisabledReturnsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), nil, config.OTelEnvConfig{})
	if err != nil {
		t.Fatalf("Init error = %v", err)
	}
	if shutdown == nil {
		t.Fatalf("shutdown must not be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
}

func TestInitRejectsUnknownProtocol(t *testing.T) {
	shutdown, err := Init(context.Background(), nil, config.OTelEnvConfig{Enabled: true, Protocol: "udp"})
	if err == nil {
		t.Fatalf("expected error for unknown protocol")
	}
	if shutdown == nil {
		t.Fatalf("shutdown must not be nil on error")
	}
}

func TestEndpointDefaults(t *testing.T) {
	cases := []struct {
		cfg          config.OTelEnvConfig
		wantProtocol string
		wantEndpoint string
	}{
		{config.OTelEnvConfig{}, "grpc", "localhost:4317"},
		{config.OTelEnvConfig{Protocol: "http"}, "http/protobuf", "localhost:4318"},
		{config.OTelEnvConfig{Protocol: "GRPC", Endpoint: "collector:4317"}, "grpc", "collector:4317"},
	}
	for _, tc := range cases {
		if got := protocolOrDefault(tc.cfg); got != tc.wantProtocol {
			t.Fatalf("protocolOrDefault(%+v) = %q, want %q", tc.cfg, got, tc.wantProtocol)
		}
		if got := endpointOrDefault(tc.cfg); got != tc.wantEndpoint {
			t.Fatalf("endpointOrDefault(%+v) = %q, want %q", tc.cfg, got, tc.wantEndpoint)
		}
	}
}

func TestGRPCHostStripsScheme(t *testing.T) {
	got, err := grpcHost("https://otel.example.com:4317")
	if err != nil || got != "otel.example.com:4317" {
		t.Fatalf("grpcHost = %q, %v", got, err)
	}
	got, err = grpcHost("localhost:4317")
	if err != nil || got != "localhost:4317" {
		t.Fatalf("grpcHost = %q, %v", got, err)
	}
}
