package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectivity marks a camera that is not enumerated or cannot be probed.
	ErrConnectivity = errors.New("camera connectivity error")
	// ErrCaptureTimeout marks a backend capture that exceeded its deadline.
	ErrCaptureTimeout = errors.New("capture timeout")
	// ErrCaptureProcess marks a capture process that exited non-zero or a
	// handle operation that failed.
	ErrCaptureProcess = errors.New("capture process error")
	// ErrCalibration marks a calibration procedure that could not run.
	ErrCalibration = errors.New("calibration error")
	// ErrHardwareUnavailable marks a camera handle that could not be opened or started.
	ErrHardwareUnavailable = errors.New("camera hardware unavailable")
	// ErrRegistryPersistence marks an unreadable or unwritable registry file.
	ErrRegistryPersistence = errors.New("registry persistence error")
	// ErrManifestWrite marks a manifest append that was not durably written.
	ErrManifestWrite = errors.New("manifest write error")
	// ErrCameraBusy marks a request for a camera that already has a capture in flight.
	ErrCameraBusy = errors.New("camera busy")
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrCaptureProcess
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

var kinds = []struct {
	marker error
	name   string
}{
	{ErrConnectivity, "connectivity"},
	{ErrCaptureTimeout, "capture_timeout"},
	{ErrCaptureProcess, "capture_process"},
	{ErrCalibration, "calibration"},
	{ErrHardwareUnavailable, "hardware_unavailable"},
	{ErrRegistryPersistence, "registry_persistence"},
	{ErrManifestWrite, "manifest_write"},
	{ErrCameraBusy, "camera_busy"},
	{ErrValidation, "validation"},
	{ErrNotFound, "not_found"},
}

// Kind returns a stable snake_case name for the marker carried by err, or
// "internal" when err carries none. Nil errors have no kind.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.marker) {
			return k.name
		}
	}
	return "internal"
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

type remoteError struct {
	marker error
	msg    string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.marker }

// Decode restores the marker of an error that crossed a process boundary as
// text. Messages built by Wrap start with the marker text; anything else is
// returned as a plain error. Empty messages decode to nil.
func Decode(msg string) error {
	if msg == "" {
		return nil
	}
	for _, k := range kinds {
		if strings.HasPrefix(msg, k.marker.Error()+":") || msg == k.marker.Error() {
			return &remoteError{marker: k.marker, msg: msg}
		}
	}
	return errors.New(msg)
}
