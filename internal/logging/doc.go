// Package logging assembles structured slog loggers and formatting helpers used
// across folio components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so capture code can automatically
// tag log lines with capture IDs, camera indices, projects, and request IDs.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
