// Package daemon coordinates the long-running texcached process.
//
// It wires the decode service, the optional decoded-result store, and the
// stream and WebSocket servers into a single lifecycle with flock-based
// locking to prevent multiple instances sharing a state directory. Status
// reports bound addresses, open sessions, and store usage.
package daemon
