// Package apng reads and writes Animated PNG containers.
//
// Decode splits an APNG into its frames, each decoded by image/png from a
// synthesised single-image stream that shares the container's IHDR, PLTE and
// tRNS chunks. Composite then replays the frames onto a full canvas with their
// dispose and blend operations applied.
package apng

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"io"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotPNG      = errors.New("not a png stream")
	ErrNotAnimated = errors.New("png is not animated")

	// ErrTooLarge is returned by DecodeLimit when the frames would exceed
	// the pixel budget.
	ErrTooLarge = errors.New("animation exceeds pixel budget")
)

type DisposeOp uint8

const (
	DisposeNone DisposeOp = iota
	DisposeBackground
	DisposePrevious
)

type BlendOp uint8

const (
	BlendSource BlendOp = iota
	BlendOver
)

// Frame is a single fcTL-delimited region of the animation.
type Frame struct {
	Image    image.Image
	X, Y     int
	DelayNum uint16
	DelayDen uint16
	Dispose  DisposeOp
	Blend    BlendOp

	// Default marks the IDAT image when it is not part of the animation.
	Default bool
}

// Delay converts the fcTL fraction to a duration. A zero denominator means
// hundredths of a second.
func (f Frame) Delay() time.Duration {
	den := f.DelayDen
	if den == 0 {
		den = 100
	}

	return time.Duration(f.DelayNum) * time.Second / time.Duration(den)
}

func (f Frame) Bounds() image.Rectangle {
	size := f.Image.Bounds().Size()
	return image.Rect(f.X, f.Y, f.X+size.X, f.Y+size.Y)
}

type APNG struct {
	Width, Height int

	// NumPlays is the acTL play count, 0 meaning infinite.
	NumPlays int
	Frames   []Frame

	// ColorKey is the tRNS colour of truecolor and grayscale images.
	ColorKey *color.NRGBA
}

// AnimationFrames returns the frames which take part in playback.
func (a *APNG) AnimationFrames() []Frame {
	frames := make([]Frame, 0, len(a.Frames))
	for _, frame := range a.Frames {
		if !frame.Default {
			frames = append(frames, frame)
		}
	}

	return frames
}

func Decode(r io.Reader) (*APNG, error) {
	return DecodeLimit(r, 0)
}

// DecodeLimit is like Decode but fails with ErrTooLarge as soon as the
// declared or encountered frames cover more than maxPixels canvas pixels in
// total. The check runs before frame data is decoded. Zero means no limit.
func DecodeLimit(r io.Reader, maxPixels int64) (*APNG, error) {
	cr := &chunkReader{r: r}
	if err := cr.signature(); err != nil {
		return nil, err
	}

	d := &decoder{maxPixels: maxPixels}
	for {
		c, err := cr.next()
		if err != nil {
			return nil, err
		}

		done, err := d.handle(c)
		if err != nil {
			return nil, errors.Wrap(err, c.typ)
		}

		if done {
			break
		}
	}

	return &APNG{
		Width:    d.width,
		Height:   d.height,
		NumPlays: int(d.numPlays),
		Frames:   d.frames,
		ColorKey: d.colorKey,
	}, nil
}

type frameControl struct {
	width, height int
	x, y          int
	delayNum      uint16
	delayDen      uint16
	dispose       DisposeOp
	blend         BlendOp
}

type pending struct {
	control frameControl
	data    bytes.Buffer
	isIDAT  bool
	hidden  bool
}

type decoder struct {
	maxPixels     int64
	count         int64
	ihdr          []byte
	width, height int
	shared        []chunk
	colorKey      *color.NRGBA
	animated      bool
	numPlays      uint32
	seenIDAT      bool
	current       *pending
	frames        []Frame
}

func (d *decoder) handle(c chunk) (bool, error) {
	if d.ihdr == nil && c.typ != chunkIHDR {
		return false, errors.New("IHDR must come first")
	}

	switch c.typ {
	case chunkIHDR:
		if d.ihdr != nil {
			return false, errors.New("duplicate chunk")
		}

		if len(c.data) != 13 {
			return false, errors.New("bad length")
		}

		d.ihdr = c.data
		d.width = int(binary.BigEndian.Uint32(c.data[0:4]))
		d.height = int(binary.BigEndian.Uint32(c.data[4:8]))
		if d.width <= 0 || d.height <= 0 {
			return false, errors.Errorf("bad dimensions %dx%d", d.width, d.height)
		}

		if err := d.reserve(1); err != nil {
			return false, err
		}

	case chunkPLTE:
		if !d.seenIDAT {
			d.shared = append(d.shared, c)
		}

	case chunkTRNS:
		if !d.seenIDAT {
			d.shared = append(d.shared, c)
			d.colorKey = colorKey(d.ihdr, c.data)
		}

	case chunkACTL:
		if d.seenIDAT {
			return false, errors.New("after IDAT")
		}

		if len(c.data) != 8 {
			return false, errors.New("bad length")
		}

		if err := d.reserve(int64(binary.BigEndian.Uint32(c.data[0:4]))); err != nil {
			return false, err
		}

		d.animated = true
		d.numPlays = binary.BigEndian.Uint32(c.data[4:8])

	case chunkFCTL:
		if !d.animated {
			return false, nil
		}

		if err := d.flush(); err != nil {
			return false, err
		}

		control, err := d.parseFrameControl(c.data)
		if err != nil {
			return false, err
		}

		d.count++
		if err := d.reserve(d.count); err != nil {
			return false, err
		}

		d.current = &pending{control: control}

	case chunkIDAT:
		if !d.animated {
			return false, ErrNotAnimated
		}

		if len(d.frames) > 0 || (d.current != nil && !d.current.isIDAT && d.seenIDAT) {
			return false, errors.New("IDAT after fdAT")
		}

		if d.current == nil {
			d.count++
			if err := d.reserve(d.count); err != nil {
				return false, err
			}

			d.current = &pending{
				control: frameControl{width: d.width, height: d.height},
				hidden:  true,
			}
		}

		if !d.seenIDAT && (d.current.control.x != 0 || d.current.control.y != 0 ||
			d.current.control.width != d.width || d.current.control.height != d.height) {
			return false, errors.New("default image frame must cover the canvas")
		}

		d.seenIDAT = true
		d.current.isIDAT = true
		d.current.data.Write(c.data)

	case chunkFDAT:
		if !d.animated {
			return false, nil
		}

		if len(c.data) < 4 {
			return false, errors.New("bad length")
		}

		if d.current == nil || d.current.isIDAT {
			return false, errors.New("without fcTL")
		}

		d.current.data.Write(c.data[4:])

	case chunkIEND:
		if !d.seenIDAT {
			return false, errors.New("no IDAT")
		}

		if !d.animated {
			return false, ErrNotAnimated
		}

		return true, d.flush()
	}

	return false, nil
}

func (d *decoder) reserve(frames int64) error {
	if d.maxPixels <= 0 {
		return nil
	}

	if int64(d.width)*int64(d.height)*frames > d.maxPixels {
		return errors.Wrapf(ErrTooLarge, "%d frames of %dx%d", frames, d.width, d.height)
	}

	return nil
}

// IsAnimated reports whether the PNG stream declares an animation. Only the
// chunks before the first IDAT are read.
func IsAnimated(r io.Reader) (bool, error) {
	cr := &chunkReader{r: r}
	if err := cr.signature(); err != nil {
		return false, err
	}

	for {
		c, err := cr.next()
		if err != nil {
			return false, err
		}

		switch c.typ {
		case chunkACTL:
			return true, nil
		case chunkIDAT, chunkIEND:
			return false, nil
		}
	}
}

func (d *decoder) parseFrameControl(data []byte) (frameControl, error) {
	if len(data) != 26 {
		return frameControl{}, errors.New("bad length")
	}

	control := frameControl{
		width:    int(binary.BigEndian.Uint32(data[4:8])),
		height:   int(binary.BigEndian.Uint32(data[8:12])),
		x:        int(binary.BigEndian.Uint32(data[12:16])),
		y:        int(binary.BigEndian.Uint32(data[16:20])),
		delayNum: binary.BigEndian.Uint16(data[20:22]),
		delayDen: binary.BigEndian.Uint16(data[22:24]),
		dispose:  DisposeOp(data[24]),
		blend:    BlendOp(data[25]),
	}

	if control.width <= 0 || control.height <= 0 ||
		control.x < 0 || control.y < 0 ||
		control.x+control.width > d.width || control.y+control.height > d.height {
		return frameControl{}, errors.Errorf("frame region %dx%d+%d+%d outside canvas %dx%d",
			control.width, control.height, control.x, control.y, d.width, d.height)
	}

	if control.dispose > DisposePrevious {
		return frameControl{}, errors.Errorf("unknown dispose op %d", control.dispose)
	}

	if control.blend > BlendOver {
		return frameControl{}, errors.Errorf("unknown blend op %d", control.blend)
	}

	return control, nil
}

func (d *decoder) flush() error {
	p := d.current
	if p == nil {
		return nil
	}

	d.current = nil
	if p.data.Len() == 0 {
		return errors.Errorf("frame %d has no image data", len(d.frames))
	}

	img, err := png.Decode(bytes.NewReader(d.synthesize(p)))
	if err != nil {
		return errors.Wrapf(err, "decode frame %d", len(d.frames))
	}

	d.frames = append(d.frames, Frame{
		Image:    img,
		X:        p.control.x,
		Y:        p.control.y,
		DelayNum: p.control.delayNum,
		DelayDen: p.control.delayDen,
		Dispose:  p.control.dispose,
		Blend:    p.control.blend,
		Default:  p.hidden,
	})

	return nil
}

func (d *decoder) synthesize(p *pending) []byte {
	var buf bytes.Buffer
	buf.Grow(p.data.Len() + 128)
	buf.WriteString(signature)

	ihdr := make([]byte, len(d.ihdr))
	copy(ihdr, d.ihdr)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(p.control.width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(p.control.height))
	writeChunk(&buf, chunkIHDR, ihdr)

	for _, c := range d.shared {
		writeChunk(&buf, c.typ, c.data)
	}

	writeChunk(&buf, chunkIDAT, p.data.Bytes())
	writeChunk(&buf, chunkIEND, nil)
	return buf.Bytes()
}

func colorKey(ihdr, trns []byte) *color.NRGBA {
	depth, colorType := ihdr[8], ihdr[9]
	sample := func(v uint16) uint8 {
		switch {
		case depth == 16:
			return uint8(v >> 8)
		case depth < 8:
			return uint8(uint32(v) * 0xff / (1<<depth - 1))
		default:
			return uint8(v)
		}
	}

	switch {
	case colorType == 0 && len(trns) == 2:
		gray := sample(binary.BigEndian.Uint16(trns))
		return &color.NRGBA{R: gray, G: gray, B: gray, A: 0xff}
	case colorType == 2 && len(trns) == 6:
		return &color.NRGBA{
			R: sample(binary.BigEndian.Uint16(trns[0:2])),
			G: sample(binary.BigEndian.Uint16(trns[2:4])),
			B: sample(binary.BigEndian.Uint16(trns[4:6])),
			A: 0xff,
		}
	}

	return nil
}
