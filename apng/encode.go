package apng

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"image"
	"image/color"
	"io"

	"github.com/pkg/errors"
)

// Encode writes a as an APNG stream with 8-bit RGBA samples, or 8-bit RGB
// samples and a tRNS chunk when ColorKey is set. Fully transparent pixels are
// written as the colour key in the latter case. The first frame is stored in
// IDAT and must cover the whole canvas.
func Encode(w io.Writer, a *APNG) error {
	if len(a.Frames) == 0 {
		return errors.New("no frames")
	}

	if first := a.Frames[0]; first.X != 0 || first.Y != 0 ||
		first.Image.Bounds().Dx() != a.Width || first.Image.Bounds().Dy() != a.Height {
		return errors.New("first frame must cover the canvas")
	}

	var buf bytes.Buffer
	buf.WriteString(signature)

	colorType := byte(6)
	if a.ColorKey != nil {
		colorType = 2
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(a.Width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(a.Height))
	ihdr[8], ihdr[9] = 8, colorType
	writeChunk(&buf, chunkIHDR, ihdr)

	if key := a.ColorKey; key != nil {
		writeChunk(&buf, chunkTRNS, []byte{0, key.R, 0, key.G, 0, key.B})
	}

	actl := make([]byte, 8)
	binary.BigEndian.PutUint32(actl[0:4], uint32(len(a.AnimationFrames())))
	binary.BigEndian.PutUint32(actl[4:8], uint32(a.NumPlays))
	writeChunk(&buf, chunkACTL, actl)

	var seq uint32
	for i, frame := range a.Frames {
		if i > 0 && frame.Default {
			return errors.Errorf("frame %d: only the first frame can be the default image", i)
		}

		if !frame.Default {
			bounds := frame.Bounds()
			if !bounds.In(image.Rect(0, 0, a.Width, a.Height)) {
				return errors.Errorf("frame %d: %v outside canvas", i, bounds)
			}

			fctl := make([]byte, 26)
			binary.BigEndian.PutUint32(fctl[0:4], seq)
			binary.BigEndian.PutUint32(fctl[4:8], uint32(bounds.Dx()))
			binary.BigEndian.PutUint32(fctl[8:12], uint32(bounds.Dy()))
			binary.BigEndian.PutUint32(fctl[12:16], uint32(frame.X))
			binary.BigEndian.PutUint32(fctl[16:20], uint32(frame.Y))
			binary.BigEndian.PutUint16(fctl[20:22], frame.DelayNum)
			binary.BigEndian.PutUint16(fctl[22:24], frame.DelayDen)
			fctl[24], fctl[25] = byte(frame.Dispose), byte(frame.Blend)
			writeChunk(&buf, chunkFCTL, fctl)
			seq++
		}

		data, err := compress(frame.Image, a.ColorKey)
		if err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}

		if i == 0 {
			writeChunk(&buf, chunkIDAT, data)
			continue
		}

		fdat := make([]byte, 4+len(data))
		binary.BigEndian.PutUint32(fdat[0:4], seq)
		copy(fdat[4:], data)
		writeChunk(&buf, chunkFDAT, fdat)
		seq++
	}

	writeChunk(&buf, chunkIEND, nil)
	_, err := w.Write(buf.Bytes())
	return err
}

func compress(img image.Image, key *color.NRGBA) ([]byte, error) {
	var (
		bounds = img.Bounds()
		bpp    = 4
	)

	if key != nil {
		bpp = 3
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	row := make([]byte, 1+bpp*bounds.Dx())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		// filter type 0
		row[0] = 0
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := 1 + (x-bounds.Min.X)*bpp
			if key != nil {
				if c.A == 0 {
					c = *key
				}

				row[i], row[i+1], row[i+2] = c.R, c.G, c.B
				continue
			}

			row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
		}

		if _, err := zw.Write(row); err != nil {
			return nil, errors.Wrap(err, "compress")
		}
	}

	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "compress")
	}

	return buf.Bytes(), nil
}
