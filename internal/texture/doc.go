// Package texture manages the lifecycle of decoded pixel buffers that feed a
// frame-driven renderer.
//
// A Source is one cacheable image. It loads when its first Holder arrives,
// cancels its decode when the last Holder leaves while still loading, and
// becomes eligible for eviction once unheld. The Manager dedups sources by
// lookup id, tracks decoded memory against a budget and frees unheld,
// non-permanent sources when over budget. Decoded buffers are not uploaded
// immediately; they queue in a Throttle that spends at most a fixed amount of
// wall-clock time per frame on uploads.
//
// All Source, Manager and Throttle state is owned by the goroutine that calls
// Driver.Frame. Decode completions may arrive on any goroutine; they are
// posted to the Manager's inbox and applied at the start of the next frame.
package texture
