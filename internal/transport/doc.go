// Package transport carries decode requests from the renderer to a decode
// backend and multiplexes the responses back.
//
// A Link moves protocol messages over one of three carriers: an in-process
// worker pool, a length-framed stream socket (TCP or unix), or a WebSocket.
// Client sits on top of any Link and keeps the per-request bookkeeping:
// exactly one callback per submitted request, none after Cancel, and a
// transport error for everything pending when the link fails.
package transport
