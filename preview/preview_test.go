package preview_test

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stickerdl/apng"
	"stickerdl/preview"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}

	return img
}

func decode(t *testing.T, data []byte) image.Image {
	img, err := png.Decode(bytes.NewReader(data))
	require.Nil(t, err)
	return img
}

func TestThumbnail_APNG(t *testing.T) {
	var buf bytes.Buffer
	require.Nil(t, apng.Encode(&buf, &apng.APNG{
		Width:  320,
		Height: 240,
		Frames: []apng.Frame{
			{Image: solid(320, 240, color.NRGBA{R: 0xff, A: 0xff})},
			{Image: solid(320, 240, color.NRGBA{G: 0xff, A: 0xff})},
		},
	}))

	data, err := preview.Thumbnail(buf.Bytes(), 100)
	require.Nil(t, err)

	img := decode(t, data)
	assert.Equal(t, image.Rect(0, 0, 100, 75), img.Bounds())
	r, g, _, _ := img.At(50, 37).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), g)
}

func TestThumbnail_GIF(t *testing.T) {
	palette := color.Palette{color.NRGBA{B: 0xff, A: 0xff}, color.NRGBA{R: 0xff, A: 0xff}}
	frame := func(index uint8) *image.Paletted {
		img := image.NewPaletted(image.Rect(0, 0, 200, 200), palette)
		for i := range img.Pix {
			img.Pix[i] = index
		}

		return img
	}

	var buf bytes.Buffer
	require.Nil(t, gif.EncodeAll(&buf, &gif.GIF{
		Image: []*image.Paletted{frame(0), frame(1)},
		Delay: []int{10, 10},
	}))

	data, err := preview.Thumbnail(buf.Bytes(), 0)
	require.Nil(t, err)

	img := decode(t, data)
	assert.Equal(t, image.Rect(0, 0, preview.DefaultWidth, preview.DefaultWidth), img.Bounds())
	_, _, b, _ := img.At(10, 10).RGBA()
	assert.Equal(t, uint32(0xffff), b)
}

func TestThumbnail_Small(t *testing.T) {
	var buf bytes.Buffer
	require.Nil(t, png.Encode(&buf, solid(40, 20, color.NRGBA{A: 0xff})))

	data, err := preview.Thumbnail(buf.Bytes(), 100)
	require.Nil(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 20), decode(t, data).Bounds())

	_, err = preview.Thumbnail([]byte("nope"), 100)
	assert.Error(t, err)
}
