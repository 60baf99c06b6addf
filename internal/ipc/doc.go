// Package ipc exposes folio operations over a JSON-RPC Unix socket and ships
// the matching client used by the CLI.
//
// Service implements the operations against a capture runtime. The daemon
// serves it on its socket; the CLI calls it in-process when no daemon answers.
// Client mirrors the Service method set and restores error markers from
// server error text so both paths classify failures the same way.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
