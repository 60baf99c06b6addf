package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"folio/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("exit status 1")
	err := services.Wrap(services.ErrCaptureProcess, "rpicam", "capture", "camera 0 failed", base)
	if !errors.Is(err, services.ErrCaptureProcess) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"rpicam", "capture", "camera 0 failed", "exit status 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindClassifiesThroughWrapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("plain"), "internal"},
		{services.Wrap(services.ErrCaptureTimeout, "rpicam", "capture", "", nil), "capture_timeout"},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrManifestWrite, "manifest", "append", "", nil)), "manifest_write"},
		{services.Wrap(services.ErrConnectivity, "capture", "check", "", nil), "connectivity"},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestDecodeRestoresMarker(t *testing.T) {
	wrapped := services.Wrap(services.ErrCameraBusy, "capture", "reserve", "camera 1 has a capture in flight", nil)
	decoded := services.Decode(wrapped.Error())
	if !errors.Is(decoded, services.ErrCameraBusy) {
		t.Fatalf("expected busy marker after decode, got %v", decoded)
	}
	if decoded.Error() != wrapped.Error() {
		t.Fatalf("expected message preserved, got %q", decoded.Error())
	}

	plain := services.Decode("socket closed")
	if services.Kind(plain) != "internal" {
		t.Fatalf("expected plain error to stay unclassified, got %s", services.Kind(plain))
	}
	if services.Decode("") != nil {
		t.Fatal("expected empty message to decode to nil")
	}
}
