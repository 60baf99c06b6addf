// Package manifest appends capture and project provenance records to the
// per-project JSONL manifests and reads them back for inspection and
// verification.
//
// Every append is written, flushed, and fsync'd before it returns. Records
// are never rewritten in place.
package manifest
