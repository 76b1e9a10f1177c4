// Package backend serves decode requests for every transport.
//
// A Service owns the shared decode machinery: the fetcher, the decoder, the
// optional persistent store, a concurrency limit and deduplication of
// identical in-flight decodes. Each transport connection gets a Session that
// tracks the requests it has in flight and guarantees that no response is
// emitted for a request after its Cancel has been handled.
package backend
