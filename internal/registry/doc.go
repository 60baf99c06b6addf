// Package registry maps stable camera hardware identities to their labels and
// calibration profiles.
//
// The registry is a single JSON document rewritten whole on every mutation.
// Mutations are read-modify-write cycles serialized within the process by a
// mutex and across processes by an advisory lock on "<registry>.lock".
package registry
