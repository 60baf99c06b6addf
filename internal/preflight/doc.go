// Package preflight provides readiness checks for the binaries and
// filesystem paths folio depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll on start and logs every failing check. A failure
//     does not stop the daemon; captures against a missing binary fail on
//     their own with a connectivity error.
//   - The CLI "folio status" command renders the same results alongside
//     camera and registry state.
package preflight
