// Package server exposes the decode backend to remote renderers.
//
// StreamServer accepts TCP or unix-socket connections speaking the
// length-framed protocol. WebSocketServer upgrades HTTP requests on a single
// endpoint and speaks the same protocol over text and binary frames. Every
// connection is one backend session, tagged with a random session id in the
// logs. Closing a server drops its connections and cancels their in-flight
// decodes.
package server
