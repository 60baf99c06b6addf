// Package daemon coordinates the long-running foliod process and its system
// integration points.
//
// It wires configuration, the capture runtime, preflight checks and the udev
// hotplug monitor into a single lifecycle with flock-based locking to prevent
// multiple instances. On start the daemon detects attached cameras and
// registers them; hotplug events re-run that detection. Stop releases every
// camera handle the runtime holds.
//
// Keep orchestration logic here: capture, calibration and manifest semantics
// live in their own packages while the daemon focuses on startup, shutdown,
// and high level coordination.
package daemon
