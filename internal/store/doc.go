// Package store persists decoded images on the decode server so repeated
// requests for the same resolved locator skip fetching and decoding.
//
// Entries live in a SQLite database. Pixel buffers are zstd-compressed and
// carry a sha256 digest that is verified on every read; an entry that fails
// verification is dropped and treated as a miss. The store is bounded by the
// total decoded size of its entries and prunes the least recently used ones
// after each write.
package store
