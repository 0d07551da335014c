// Package preview renders small PNG thumbnails of stickers.
package preview

import (
	"bytes"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

const DefaultWidth = 100

// Thumbnail decodes a PNG or GIF, taking the first frame of animations, and
// scales it down to width keeping the aspect ratio. Images narrower than
// width are not enlarged.
func Thumbnail(data []byte, width int) ([]byte, error) {
	if width <= 0 {
		width = DefaultWidth
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, errors.Wrap(err, "encode")
	}

	return buf.Bytes(), nil
}
