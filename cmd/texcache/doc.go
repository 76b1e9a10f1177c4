// Command texcache is the operator and renderer-side CLI.
//
// "serve" runs the decode daemon in the foreground. "decode" performs one
// decode over the configured transport and reports the result. "load" drives
// a headless texture cache over the same transport, frame by frame, and
// prints per-source state plus cache counters. "preflight", "status" and
// "config" cover setup and diagnostics.
package main
