package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sonomap/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	err := services.Wrap(services.ErrTimeout, "worker", "analyze", "no response", nil)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "worker: analyze") {
		t.Fatalf("expected component detail in message: %v", err)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("pipe closed")
	err := services.Wrap(services.ErrEngineUnavailable, "worker", "initialize", "", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestWrapNilMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail: %v", err)
	}
}

func TestFallbackReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{services.Wrap(services.ErrEngineUnavailable, "worker", "analyze", "", nil), "engine_unavailable"},
		{services.Wrap(services.ErrTimeout, "worker", "analyze", "", nil), "timeout"},
		{services.Wrap(services.ErrDecode, "decode", "read", "", nil), "decode_failed"},
		{errors.New("unclassified"), "analysis_failed"},
	}
	for _, tc := range cases {
		if got := services.FallbackReason(tc.err); got != tc.want {
			t.Fatalf("FallbackReason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithFilePath(ctx, "clips/a.wav")
	ctx = services.WithRequestID(ctx, "req-7")

	if path, ok := services.FilePathFromContext(ctx); !ok || path != "clips/a.wav" {
		t.Fatalf("unexpected file path: %v %v", path, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-7" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestEmptyPathPreservesContext(t *testing.T) {
	ctx := services.WithFilePath(context.Background(), "")
	if _, ok := services.FilePathFromContext(ctx); ok {
		t.Fatal("expected no file path value")
	}
}
