package capture

import (
	"errors"
	"strings"
	"testing"
	"time"

	"folio/internal/camera"
	"folio/internal/services"
)

func TestPairIDFormatsUTCMilliseconds(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	ts := time.Date(2026, 1, 4, 5, 56, 32, 123_456_789, loc)
	if got := PairID(ts); got != "20260104_035632_123" {
		t.Fatalf("PairID = %q", got)
	}
	if got := PairID(time.Date(2026, 1, 4, 3, 56, 32, 7_000_000, time.UTC)); got != "20260104_035632_007" {
		t.Fatalf("PairID should zero-pad milliseconds, got %q", got)
	}
}

func TestFilename(t *testing.T) {
	cfg := camera.Default(1)
	tests := []struct {
		name    string
		cfg     camera.Config
		include bool
		want    string
	}{
		{"plain", cfg, false, "20260104_035632_123_c1.jpg"},
		{"resolution", cfg, true, "20260104_035632_123_c1_4624x3472.jpg"},
		{"png", cfg.WithEncoding(camera.EncodingPNG), false, "20260104_035632_123_c1.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Filename("20260104_035632_123", tt.cfg, tt.include); got != tt.want {
				t.Fatalf("Filename = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCustomFilenames(t *testing.T) {
	tests := []struct {
		name string
		enc  camera.Encoding
		want string
	}{
		{"cover", camera.EncodingJPG, "cover.jpg"},
		{"cover.jpg", camera.EncodingJPG, "cover.jpg"},
		{"cover.JPEG", camera.EncodingJPG, "cover.JPEG"},
		{"scan.v2", camera.EncodingJPG, "scan.v2.jpg"},
		{"plate.tiff", camera.EncodingPNG, "plate.tiff.png"},
		{"trailing.", camera.EncodingPNG, "trailing.png"},
	}
	for _, tt := range tests {
		got, err := withExtension(tt.name, tt.enc)
		if err != nil || got != tt.want {
			t.Fatalf("withExtension(%q, %s) = %q, %v; want %q", tt.name, tt.enc, got, err, tt.want)
		}
	}
	if _, err := withExtension("cover.png", camera.EncodingJPG); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("mismatched extension should be refused, got %v", err)
	}

	for _, bad := range []string{"..", "a/b", `a\b`, ".hidden", "../../../escaped"} {
		if validateName("filename", bad) == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
	if err := validateName("sequence", "page_0001"); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
	if err := validateName("sequence", "a/b"); err == nil || !strings.Contains(err.Error(), "sequence cannot contain path separators") {
		t.Fatalf("error should name the field, got %v", err)
	}
}

func TestStateTransitions(t *testing.T) {
	if !canTransition(StateConnectivityCheck, StateFailed) || !canTransition(StateBackendCapture, StateFailed) {
		t.Fatal("connectivity and backend capture must be able to fail")
	}
	if canTransition(StatePostProcess, StateFailed) || canTransition(StateDone, StateIdle) {
		t.Fatal("unexpected transition allowed")
	}
	if !StateDone.Terminal() || !StateFailed.Terminal() || StateManifestWrite.Terminal() {
		t.Fatal("terminal states misreported")
	}
}
