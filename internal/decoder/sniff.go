package decoder

import (
	"bytes"
	"fmt"
	"path"
	"strings"
)

// Format names a recognised encoded image format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatBMP  Format = "bmp"
	FormatTGA  Format = "tga"
)

var (
	magicJPEG     = []byte{0xFF, 0xD8, 0xFF, 0xE0}
	magicJPEGExif = []byte{0xFF, 0xD8, 0xFF, 0xE1}
	magicJPEGRaw  = []byte{0xFF, 0xD8, 0xFF, 0xDB}
	magicPNG      = []byte{0x89, 0x50, 0x4E, 0x47}
	magicGIF      = []byte("GIF8")
	magicRIFF     = []byte("RIFF")
	magicWebP     = []byte("WEBP")
	magicBMP      = []byte("BM")
)

// Sniff inspects the leading bytes of data. The locator is only consulted for
// TGA, which has no signature of its own.
func Sniff(data []byte, locator string) (Format, error) {
	switch {
	case bytes.HasPrefix(data, magicJPEG), bytes.HasPrefix(data, magicJPEGExif), bytes.HasPrefix(data, magicJPEGRaw):
		return FormatJPEG, nil
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG, nil
	case bytes.HasPrefix(data, magicGIF):
		return FormatGIF, nil
	case len(data) >= 12 && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWebP):
		return FormatWebP, nil
	case bytes.HasPrefix(data, magicBMP):
		return FormatBMP, nil
	case hasTGAExtension(locator) && len(data) >= 18:
		return FormatTGA, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, signature(data))
}

func hasTGAExtension(locator string) bool {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		locator = locator[:i]
	}
	return strings.EqualFold(path.Ext(locator), ".tga")
}

func signature(data []byte) string {
	if len(data) > 4 {
		data = data[:4]
	}
	if len(data) == 0 {
		return "empty payload"
	}
	return fmt.Sprintf("signature % X", data)
}
