package main

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stickerdl/apng"
	"stickerdl/converter"
	"stickerdl/session"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	frame := func(c color.NRGBA) *image.NRGBA {
		img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
		}

		return img
	}

	var buf bytes.Buffer
	require.Nil(t, apng.Encode(&buf, &apng.APNG{
		Width:    2,
		Height:   2,
		NumPlays: 3,
		Frames: []apng.Frame{
			{Image: frame(color.NRGBA{R: 0xff, A: 0xff}), DelayNum: 1, DelayDen: 10},
			{Image: frame(color.NRGBA{G: 0xff, A: 0xff}), DelayNum: 1, DelayDen: 10},
		},
	}))

	in, out := filepath.Join(dir, "in.png"), filepath.Join(dir, "out.gif")
	require.Nil(t, os.WriteFile(in, buf.Bytes(), 0o644))

	stdout, err := execute(t, "convert", in, out)
	require.Nil(t, err)
	assert.Equal(t, out+": 2 frames, 200ms, loops 3 times\n", stdout)

	data, err := os.ReadFile(out)
	require.Nil(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("GIF89a")))
}

func TestConvertCommand_Unanimated(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	require.Nil(t, os.WriteFile(in, []byte("not a png"), 0o644))

	_, err := execute(t, "convert", in, filepath.Join(dir, "out.gif"))
	var conversionErr *converter.ConversionError
	assert.True(t, errors.As(err, &conversionErr), "%v", err)

	_, err = os.Stat(filepath.Join(dir, "out.gif"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchCommand_WrapsErrors(t *testing.T) {
	_, err := execute(t, "fetch", "[only a title]")
	assert.True(t, errors.Is(err, session.ErrEmptyInput), "%v", err)
	assert.EqualError(t, err, "fetch [only a title]: "+session.ErrEmptyInput.Error())
}

func TestFetchCommand_RequiresURL(t *testing.T) {
	_, err := execute(t, "fetch")
	assert.EqualError(t, err, "requires at least 1 arg(s), only received 0")
}
