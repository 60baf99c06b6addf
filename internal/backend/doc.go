// Package backend defines the contract shared by the two camera capture
// implementations: rpicam, which spawns one rpicam-still process per capture,
// and picam, which keeps a long-lived handle open per camera index.
//
// The orchestrator and registry only ever see this package's types. Backend
// specific detail (argument lists, handle controls) stays in the
// implementation packages.
package backend
