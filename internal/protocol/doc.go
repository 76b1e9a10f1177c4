// Package protocol defines the decode offload protocol shared by every
// transport: the request and response sum types, their JSON wire shapes, and
// the length-prefixed framing used on stream sockets.
//
// A session starts with a Hello carrying the base URL. Decode requests are
// answered by exactly one Success or Failure unless cancelled first. A Success
// is always carried as two frames: a JSON metadata frame followed by a binary
// frame with the RGBA pixels. The two are never merged.
package protocol
