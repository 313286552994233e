package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"overlaycast/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("broken pipe")
	err := services.Wrap(services.ErrEgressUnavailable, "egress", "write", "ffmpeg stdin closed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrEgressUnavailable) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"egress", "write", "ffmpeg stdin closed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToExternalTool(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want services.Disposition
	}{
		{"configuration", services.Wrap(services.ErrConfiguration, "encoder", "create", "width must be positive", nil), services.DispositionFatal},
		{"capacity", services.Wrap(services.ErrEncoderCapacity, "encoder", "encode", "queue full", nil), services.DispositionDrop},
		{"source", services.Wrap(services.ErrSourceUnavailable, "source", "open", "probe failed", nil), services.DispositionRecoverable},
		{"unmarked", fmt.Errorf("surprise"), services.DispositionRecoverable},
		{"nil", nil, services.DispositionRecoverable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}
}
