// Package capture orchestrates single and staggered dual captures.
//
// An Orchestrator walks every request through the same state sequence
// (connectivity check, config resolution, backend capture, post-processing,
// manifest write) and turns backend failures into recorded, structured
// results. Runtime owns the long-lived pieces shared by the CLI and daemon:
// the lazily selected backend, the camera registry, the manifest logger, the
// project manager and the calibration engine.
package capture
