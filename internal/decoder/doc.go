// Package decoder turns fetched asset bytes into straight RGBA pixel buffers.
//
// Formats are chosen by sniffing the leading bytes of the payload. JPEG, PNG,
// GIF, WebP and BMP are recognised by their magic numbers; TGA carries no
// magic and is only accepted when the locator ends in ".tga". Anything else
// is rejected rather than guessed at.
//
// Fetcher resolves request locators against a session base URL and reads
// them over HTTP(S) or from the local filesystem.
package decoder
