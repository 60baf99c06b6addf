// Command folio is the operator CLI for the folio capture appliance.
//
// Commands talk to foliod over its Unix socket when the daemon answers and
// otherwise build an in-process capture runtime, so every operation works
// with or without the daemon. Pass --local to skip the daemon.
package main
