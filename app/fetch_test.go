package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stickerdl/apng"
	"stickerdl/app"
	"stickerdl/catalog"
	"stickerdl/config"
	"stickerdl/fetcher"
	"stickerdl/metrics"
	"stickerdl/resolver"
)

const pageURL = "https://store.line.me/stickershop/product/777/en"

func gradient(t *testing.T) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 8))
	for x := 0; x < 64; x++ {
		for y := 0; y < 8; y++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), A: 0xff})
		}
	}

	var buf bytes.Buffer
	require.Nil(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func animation(t *testing.T) []byte {
	frame := func(c color.NRGBA) *image.NRGBA {
		img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
		}

		return img
	}

	var buf bytes.Buffer
	require.Nil(t, apng.Encode(&buf, &apng.APNG{
		Width:  4,
		Height: 4,
		Frames: []apng.Frame{
			{Image: frame(color.NRGBA{G: 0xff, A: 0xff}), DelayNum: 10, DelayDen: 100},
			{Image: frame(color.NRGBA{B: 0xff, A: 0xff}), DelayNum: 10, DelayDen: 100},
		},
	}))

	return buf.Bytes()
}

func page(t *testing.T, previews ...map[string]string) []byte {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, preview := range previews {
		data, err := json.Marshal(preview)
		require.Nil(t, err)
		fmt.Fprintf(&b, `<li class="mdCMN09Li FnStickerPreviewItem" data-preview="%s"></li>`, html.EscapeString(string(data)))
	}

	b.WriteString("</ul></body></html>")
	return []byte(b.String())
}

func newInstance(t *testing.T, dsn string) (*app.Instance, map[string][]byte) {
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Output.SkipDuplicates = true
	cfg.Storage.Enabled = true
	cfg.Storage.DSN = dsn

	still := gradient(t)
	content := map[string][]byte{
		"https://cdn/10.png":  still,
		"https://cdn/11.apng": animation(t),
		"https://cdn/12.png":  still,
	}

	content[pageURL] = page(t,
		map[string]string{"type": "static", "id": "10", "staticUrl": "https://cdn/10.png"},
		map[string]string{"type": "animation", "id": "11", "staticUrl": "https://cdn/11.png", "animationUrl": "https://cdn/11.apng"},
		map[string]string{"type": "static", "id": "12", "staticUrl": "https://cdn/12.png"},
	)

	instance := app.Create(cfg, nil)
	instance.SetFetcher(fetcher.Func(func(ctx context.Context, url string) ([]byte, error) {
		data, ok := content[url]
		if !ok {
			return nil, &fetcher.StatusError{URL: url, Code: http.StatusNotFound}
		}

		return data, nil
	}))

	return instance, content
}

func TestInstance_Fetch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instance, _ := newInstance(t, "file:app_fetch?mode=memory&cache=shared")
	defer instance.Close()

	dir, reports, err := instance.Fetch(ctx, "[Moving Cats] "+pageURL)
	require.Nil(t, err)
	assert.Equal(t, filepath.Join(instance.Config().Output.Dir, "777"), dir)
	require.Len(t, reports, 3)

	assert.Equal(t, filepath.Join(dir, "sticker_1.png"), reports[0].Path)
	assert.Equal(t, resolver.OriginalFormat, reports[0].Status)
	assert.Equal(t, "original PNG", reports[0].Caption())

	assert.Equal(t, filepath.Join(dir, "sticker_2.gif"), reports[1].Path)
	assert.Equal(t, resolver.ConvertedToGif, reports[1].Status)
	assert.Equal(t, "  2. "+reports[1].Path+" (converted to GIF)", reports[1].String())

	assert.True(t, reports[2].Skipped)
	assert.Empty(t, reports[2].Path)
	assert.Equal(t, "duplicate, skipped", reports[2].Caption())

	data, err := os.ReadFile(reports[1].Path)
	require.Nil(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("GIF89a")))

	_, err = os.Stat(filepath.Join(dir, "sticker_3.png"))
	assert.True(t, os.IsNotExist(err))

	db, err := instance.GetStorage(ctx)
	require.Nil(t, err)
	history, err := db.History(ctx, 10)
	require.Nil(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, pageURL, history[0].URL)
	assert.Equal(t, 3, history[0].Stickers)

	stickers, err := db.Stickers(ctx, history[0].ID)
	require.Nil(t, err)
	require.Len(t, stickers, 3)
	assert.Equal(t, "sticker_2.gif", stickers[1].FileName.String)
	assert.Equal(t, "gif", stickers[1].Status.String)

	// the same catalog again: everything has been seen
	_, reports, err = instance.Fetch(ctx, pageURL)
	require.Nil(t, err)
	for _, report := range reports {
		assert.True(t, report.Skipped, "sticker %d", report.Index+1)
	}
}

func TestInstance_FetchErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instance, content := newInstance(t, "file:app_fetch_errors?mode=memory&cache=shared")
	defer instance.Close()

	delete(content, "https://cdn/12.png")
	_, reports, err := instance.Fetch(ctx, pageURL)
	require.Nil(t, err)
	require.Len(t, reports, 3)

	var resolutionErr *resolver.ResolutionError
	require.ErrorAs(t, reports[2].Err, &resolutionErr)
	assert.Equal(t, resolver.Network, resolutionErr.Reason)
	assert.True(t, strings.HasPrefix(reports[2].Caption(), "error: "))

	_, _, err = instance.Fetch(ctx, "https://store.line.me/stickershop/product/404/en")
	var extractionErr *catalog.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, catalog.PageFetch, extractionErr.Reason)
}

func TestInstance_Metrics(t *testing.T) {
	cfg := config.Default()
	instance := app.Create(cfg, nil)
	assert.Equal(t, metrics.Dummy, instance.GetMetrics())
	assert.Nil(t, instance.MetricsHandler())

	cfg.Metrics.Enabled = true
	instance = app.Create(cfg, nil)
	assert.NotEqual(t, metrics.Dummy, instance.GetMetrics())
	assert.NotNil(t, instance.MetricsHandler())
}

func TestDirectory(t *testing.T) {
	for url, expected := range map[string]string{
		pageURL: "777",
		"https://store.line.me/stickershop/product/12345": "12345",
		"https://line.me/S/sticker/999":                   "999",
		"https://store.line.me/":                          "stickers",
		"https://store.line.me/../..":                     "stickers",
		"%%":                                              "stickers",
	} {
		assert.Equal(t, expected, app.Directory(url), url)
	}
}
