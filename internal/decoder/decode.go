package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

var (
	// ErrUnknownFormat is returned when the payload matches no known signature.
	ErrUnknownFormat = errors.New("decoder: unknown image format")
	// ErrTooLarge is returned when an image exceeds the configured dimension limit.
	ErrTooLarge = errors.New("decoder: image too large")
)

// Image is a decoded image in straight (non-premultiplied) RGBA, 4 bytes per
// pixel, rows packed without padding.
type Image struct {
	Width      int
	Height     int
	Format     Format
	Pix        []byte
	RenderInfo map[string]any
}

type codec struct {
	decode func(io.Reader) (image.Image, error)
	config func(io.Reader) (image.Config, error)
}

var codecs = map[Format]codec{
	FormatJPEG: {jpeg.Decode, jpeg.DecodeConfig},
	FormatPNG:  {png.Decode, png.DecodeConfig},
	FormatGIF:  {gif.Decode, gif.DecodeConfig},
	FormatWebP: {webp.Decode, webp.DecodeConfig},
	FormatBMP:  {bmp.Decode, bmp.DecodeConfig},
	FormatTGA:  {tga.Decode, tga.DecodeConfig},
}

// Decoder converts encoded payloads to RGBA. The zero value has no dimension
// limit.
type Decoder struct {
	// MaxDimension rejects images wider or taller than this before any pixel
	// data is decoded. Zero disables the check.
	MaxDimension int
}

// Decode sniffs data, checks its dimensions and decodes it to RGBA.
func (d Decoder) Decode(data []byte, locator string) (*Image, error) {
	format, err := Sniff(data, locator)
	if err != nil {
		return nil, err
	}
	c := codecs[format]

	if d.MaxDimension > 0 {
		cfg, err := c.config(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoder: read %s header: %w", format, err)
		}
		if cfg.Width > d.MaxDimension || cfg.Height > d.MaxDimension {
			return nil, fmt.Errorf("%w: %dx%d exceeds %d", ErrTooLarge, cfg.Width, cfg.Height, d.MaxDimension)
		}
	}

	img, err := c.decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoder: decode %s: %w", format, err)
	}
	rgba := ToRGBA(img)
	b := rgba.Bounds()
	return &Image{
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
		Pix:    rgba.Pix,
		RenderInfo: map[string]any{
			"format": string(format),
		},
	}, nil
}

// ToRGBA converts img to a zero-origin NRGBA image with tightly packed rows.
// Sources without an alpha channel come out fully opaque.
func ToRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == 4*b.Dx() {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
