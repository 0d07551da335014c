package apng

import (
	"image"

	"golang.org/x/image/draw"
)

// Composite renders the animation frames onto a canvas of the image size and
// returns a snapshot of the canvas after each frame, before its dispose op.
func (a *APNG) Composite() []*image.NRGBA {
	result := make([]*image.NRGBA, 0, len(a.Frames))
	_ = a.Render(func(_ int, _ Frame, canvas *image.NRGBA) error {
		result = append(result, clone(canvas))
		return nil
	})

	return result
}

// Render is like Composite but passes the shared canvas to fn after each
// frame instead of copying it. The canvas must not be retained past the call.
// Rendering stops at the first error returned by fn.
func (a *APNG) Render(fn func(i int, frame Frame, canvas *image.NRGBA) error) error {
	var (
		canvas = image.NewNRGBA(image.Rect(0, 0, a.Width, a.Height))
		frames = a.AnimationFrames()
	)

	for i, frame := range frames {
		rect := frame.Bounds()
		dispose := frame.Dispose
		if i == 0 && dispose == DisposePrevious {
			dispose = DisposeBackground
		}

		var saved *image.NRGBA
		if dispose == DisposePrevious {
			saved = image.NewNRGBA(rect)
			draw.Draw(saved, rect, canvas, rect.Min, draw.Src)
		}

		op := draw.Over
		if frame.Blend == BlendSource {
			op = draw.Src
		}

		draw.Draw(canvas, rect, frame.Image, frame.Image.Bounds().Min, op)
		if err := fn(i, frame, canvas); err != nil {
			return err
		}

		switch dispose {
		case DisposeBackground:
			draw.Draw(canvas, rect, image.Transparent, image.Point{}, draw.Src)
		case DisposePrevious:
			draw.Draw(canvas, rect, saved, rect.Min, draw.Src)
		}
	}

	return nil
}

func clone(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}
