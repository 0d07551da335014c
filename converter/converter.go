// Package converter turns animated PNG stickers into GIF animations.
package converter

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"stickerdl/apng"
)

// DefaultDelay is used for frames which declare a zero delay.
const DefaultDelay = 100 * time.Millisecond

// ErrUnanimated is returned for input that decodes to fewer than two frames.
var ErrUnanimated = errors.New("asset is not animated")

type ConversionError struct {
	Op  string
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert: %s: %s", e.Op, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

type Frame struct {
	Image *image.NRGBA
	Delay time.Duration
}

type FrameSequence struct {
	Frames []Frame

	// LoopCount is the number of plays, 0 meaning forever.
	LoopCount int

	Transparency *color.NRGBA
}

// Duration is the sum of frame delays.
func (s *FrameSequence) Duration() time.Duration {
	var total time.Duration
	for _, frame := range s.Frames {
		total += frame.Delay
	}

	return total
}

// MaxPixels bounds the total canvas area of all frames of an animation.
const MaxPixels int64 = 1 << 24

func decode(raw []byte) (*apng.APNG, error) {
	animation, err := apng.DecodeLimit(bytes.NewReader(raw), MaxPixels)
	switch {
	case errors.Is(err, apng.ErrNotAnimated):
		return nil, ErrUnanimated
	case err != nil:
		return nil, &ConversionError{Op: "decode", Err: err}
	}

	if len(animation.AnimationFrames()) < 2 {
		return nil, ErrUnanimated
	}

	return animation, nil
}

func delay(frame apng.Frame) time.Duration {
	if frame.DelayNum == 0 {
		return DefaultDelay
	}

	return frame.Delay()
}

// Decode reads an APNG and composites it into a frame sequence.
func Decode(raw []byte) (*FrameSequence, error) {
	animation, err := decode(raw)
	if err != nil {
		return nil, err
	}

	seq := &FrameSequence{
		Frames:       make([]Frame, 0, len(animation.Frames)),
		LoopCount:    animation.NumPlays,
		Transparency: animation.ColorKey,
	}

	_ = animation.Render(func(_ int, frame apng.Frame, canvas *image.NRGBA) error {
		seq.Frames = append(seq.Frames, Frame{Image: imaging.Clone(canvas), Delay: delay(frame)})
		return nil
	})

	return seq, nil
}

// Convert decodes raw APNG bytes and encodes them as a GIF. Each composited
// frame is quantized as soon as it is rendered.
func Convert(raw []byte) ([]byte, error) {
	animation, err := decode(raw)
	if err != nil {
		return nil, err
	}

	g := newGIF(len(animation.Frames), animation.NumPlays)
	_ = animation.Render(func(_ int, frame apng.Frame, canvas *image.NRGBA) error {
		addFrame(g, canvas, delay(frame), animation.ColorKey)
		return nil
	})

	var buf bytes.Buffer
	if err := encodeGIF(&buf, g); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
