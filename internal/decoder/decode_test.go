package decoder

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jfifAPP0 = []byte{
	0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00,
	0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
}

// encodeJFIF encodes img as a baseline JPEG carrying a JFIF APP0 marker.
func encodeJFIF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	raw := buf.Bytes()
	out := append([]byte{}, raw[:2]...)
	out = append(out, jfifAPP0...)
	return append(out, raw[2:]...)
}

func rgbFixture(w, h int) image.Image {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio444)
	for i := range img.Y {
		img.Y[i] = 128
	}
	for i := range img.Cb {
		img.Cb[i] = 100
		img.Cr[i] = 160
	}
	return img
}

func TestDecodeJPEGProducesOpaqueRGBA(t *testing.T) {
	data := encodeJFIF(t, rgbFixture(2, 2))
	require.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xE0}, data[:4])

	img, err := Decoder{}.Decode(data, "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, img.Format)
	assert.Equal(t, 2, img.Width)
	assert.Equal(t, 2, img.Height)
	require.Len(t, img.Pix, 2*2*4)
	for i := 3; i < len(img.Pix); i += 4 {
		assert.Equal(t, byte(255), img.Pix[i], "alpha at byte %d", i)
	}
	assert.Equal(t, "jpeg", img.RenderInfo["format"])
}

func TestDecodePNGKeepsStraightAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 10, B: 20, A: 128})
	src.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 0})
	src.SetNRGBA(2, 0, color.NRGBA{R: 9, G: 8, B: 7, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := Decoder{}.Decode(buf.Bytes(), "a.png")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, img.Format)
	assert.Equal(t, []byte{200, 10, 20, 128}, img.Pix[0:4])
	assert.Equal(t, byte(0), img.Pix[7])
	assert.Equal(t, []byte{9, 8, 7, 255}, img.Pix[8:12])
}

func TestDecodeRejectsUnknownSignature(t *testing.T) {
	_, err := Decoder{}.Decode([]byte("hello world"), "a.jpg")
	require.ErrorIs(t, err, ErrUnknownFormat)
	assert.Contains(t, err.Error(), "68 65 6C 6C")

	_, err = Decoder{}.Decode(nil, "a.png")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestDecodeEnforcesMaxDimension(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 65, 4))))

	_, err := Decoder{MaxDimension: 64}.Decode(buf.Bytes(), "wide.png")
	require.ErrorIs(t, err, ErrTooLarge)

	img, err := Decoder{MaxDimension: 65}.Decode(buf.Bytes(), "wide.png")
	require.NoError(t, err)
	assert.Equal(t, 65, img.Width)
}

func TestToRGBANormalisesOrigin(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.SetNRGBA(5, 5, color.NRGBA{R: 1, A: 255})
	out := ToRGBA(src)
	assert.Equal(t, image.Rect(0, 0, 2, 1), out.Bounds())
	assert.Equal(t, []byte{1, 0, 0, 255}, out.Pix[0:4])
}
