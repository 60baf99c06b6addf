// Package services defines shared error markers and context helpers consumed by
// the capture backends, registry, calibration engine, and orchestrator.
//
// Key responsibilities:
//   - Context helpers that stamp capture IDs, camera indices, project names,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify a
//     failure with errors.Is regardless of how deeply it was wrapped.
package services
