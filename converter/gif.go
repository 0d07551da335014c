package converter

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"io"
	"sort"
	"time"
)

// alphaThreshold is the lowest alpha rendered as opaque. GIF has no partial
// transparency.
const alphaThreshold = 0x80

const gifTick = 10 * time.Millisecond

// Encode writes the sequence as a GIF animation. Every frame gets its own
// palette and is disposed to background.
func Encode(w io.Writer, seq *FrameSequence) error {
	if len(seq.Frames) < 2 {
		return ErrUnanimated
	}

	g := newGIF(len(seq.Frames), seq.LoopCount)
	for _, frame := range seq.Frames {
		addFrame(g, frame.Image, frame.Delay, seq.Transparency)
	}

	return encodeGIF(w, g)
}

func newGIF(frames, plays int) *gif.GIF {
	return &gif.GIF{
		Image:     make([]*image.Paletted, 0, frames),
		Delay:     make([]int, 0, frames),
		Disposal:  make([]byte, 0, frames),
		LoopCount: loopCount(plays),
	}
}

func addFrame(g *gif.GIF, img *image.NRGBA, delay time.Duration, key *color.NRGBA) {
	bounds := img.Bounds()
	if bounds.Dx() > g.Config.Width {
		g.Config.Width = bounds.Dx()
	}

	if bounds.Dy() > g.Config.Height {
		g.Config.Height = bounds.Dy()
	}

	g.Image = append(g.Image, quantize(img, key))
	g.Delay = append(g.Delay, ticks(delay))
	g.Disposal = append(g.Disposal, gif.DisposalBackground)
}

func encodeGIF(w io.Writer, g *gif.GIF) error {
	if err := gif.EncodeAll(w, g); err != nil {
		return &ConversionError{Op: "encode", Err: err}
	}

	return nil
}

// Summary decodes a GIF and reports its frame count, total duration and play
// count (0 meaning forever).
func Summary(data []byte) (frames int, total time.Duration, plays int, err error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return 0, 0, 0, &ConversionError{Op: "summary", Err: err}
	}

	for _, delay := range g.Delay {
		total += time.Duration(delay) * gifTick
	}

	switch {
	case g.LoopCount == 0:
		plays = 0
	case g.LoopCount < 0:
		plays = 1
	default:
		plays = g.LoopCount + 1
	}

	return len(g.Image), total, plays, nil
}

// loopCount maps a play count onto the NETSCAPE extension value.
func loopCount(plays int) int {
	switch {
	case plays <= 0:
		return 0
	case plays == 1:
		return -1
	default:
		return plays - 1
	}
}

func ticks(delay time.Duration) int {
	if delay <= 0 {
		return 0
	}

	n := int((delay + gifTick/2) / gifTick)
	if n < 1 {
		n = 1
	}

	return n
}

type bucket struct {
	count   int
	r, g, b int
}

func quantize(img *image.NRGBA, key *color.NRGBA) *image.Paletted {
	var (
		bounds      = img.Bounds()
		counts      = make(map[uint32]int)
		transparent = false
	)

	isTransparent := func(c color.NRGBA) bool {
		return c.A < alphaThreshold || key != nil && c.R == key.R && c.G == key.G && c.B == key.B
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			if isTransparent(c) {
				transparent = true
				continue
			}

			counts[pack(c)]++
		}
	}

	var palette color.Palette
	offset, limit := 0, 256
	if transparent {
		palette = append(palette, color.NRGBA{})
		offset, limit = 1, 255
	}

	index := make(map[uint32]uint8, len(counts))
	if len(counts) <= limit {
		colors := make([]uint32, 0, len(counts))
		for c := range counts {
			colors = append(colors, c)
		}

		sort.Slice(colors, func(i, j int) bool { return colors[i] < colors[j] })
		for i, c := range colors {
			palette = append(palette, unpack(c))
			index[c] = uint8(offset + i)
		}
	} else {
		palette = append(palette, popularity(counts, limit)...)
	}

	paletted := image.NewPaletted(bounds, palette)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			if isTransparent(c) {
				paletted.SetColorIndex(x, y, 0)
				continue
			}

			p := pack(c)
			i, ok := index[p]
			if !ok {
				i = nearest(palette[offset:], c) + uint8(offset)
				index[p] = i
			}

			paletted.SetColorIndex(x, y, i)
		}
	}

	return paletted
}

// popularity picks the most frequent cells of a 5-bit colour cube and returns
// the mean colour of each.
func popularity(counts map[uint32]int, limit int) color.Palette {
	cells := make(map[uint32]*bucket)
	for c, n := range counts {
		rgb := unpack(c)
		cell := uint32(rgb.R>>3)<<10 | uint32(rgb.G>>3)<<5 | uint32(rgb.B>>3)
		b, ok := cells[cell]
		if !ok {
			b = new(bucket)
			cells[cell] = b
		}

		b.count += n
		b.r += int(rgb.R) * n
		b.g += int(rgb.G) * n
		b.b += int(rgb.B) * n
	}

	keys := make([]uint32, 0, len(cells))
	for cell := range cells {
		keys = append(keys, cell)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := cells[keys[i]], cells[keys[j]]
		if a.count != b.count {
			return a.count > b.count
		}

		return keys[i] < keys[j]
	})

	if len(keys) > limit {
		keys = keys[:limit]
	}

	palette := make(color.Palette, len(keys))
	for i, cell := range keys {
		b := cells[cell]
		palette[i] = color.NRGBA{
			R: uint8(b.r / b.count),
			G: uint8(b.g / b.count),
			B: uint8(b.b / b.count),
			A: 0xff,
		}
	}

	return palette
}

func nearest(palette color.Palette, c color.NRGBA) uint8 {
	best, bestDistance := 0, 1<<31-1
	for i, entry := range palette {
		e := entry.(color.NRGBA)
		dr, dg, db := int(e.R)-int(c.R), int(e.G)-int(c.G), int(e.B)-int(c.B)
		distance := dr*dr + dg*dg + db*db
		if distance < bestDistance {
			best, bestDistance = i, distance
		}
	}

	return uint8(best)
}

func pack(c color.NRGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

func unpack(c uint32) color.NRGBA {
	return color.NRGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: 0xff}
}
