// Package rpicam implements the subprocess capture backend. Each capture runs
// one rpicam-still process with a bounded timeout; enumeration and
// connectivity probes run rpicam-still --list-cameras.
//
// The backend holds no camera state between calls, so it cannot stream,
// adjust controls live, or report sensor metadata. Cleanup is a no-op.
package rpicam
