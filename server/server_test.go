package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stickerdl/apng"
	"stickerdl/catalog"
	"stickerdl/converter"
	"stickerdl/fetcher"
	"stickerdl/metrics"
	"stickerdl/resolver"
	"stickerdl/server"
	"stickerdl/session"
	"stickerdl/storage"
)

const pageURL = "https://store.line.me/stickershop/product/1/en"

func solid(c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 240, 240))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}

	return img
}

func assets(t *testing.T) map[string][]byte {
	var static bytes.Buffer
	require.Nil(t, png.Encode(&static, solid(color.NRGBA{B: 0xff, A: 0xff})))

	var animated bytes.Buffer
	require.Nil(t, apng.Encode(&animated, &apng.APNG{
		Width:  240,
		Height: 240,
		Frames: []apng.Frame{
			{Image: solid(color.NRGBA{R: 0xff, A: 0xff}), DelayNum: 10},
			{Image: solid(color.NRGBA{G: 0xff, A: 0xff}), DelayNum: 10},
		},
	}))

	item := func(preview string) string {
		return fmt.Sprintf(`<li class="mdCMN09Li FnStickerPreviewItem" data-preview='%s'></li>`, preview)
	}

	page := "<ul>" +
		item(`{"type":"static","id":"1","staticUrl":"https://cdn/1.png"}`) +
		item(`{"type":"animation","id":"2","staticUrl":"https://cdn/2.png","animationUrl":"https://cdn/2a.png"}`) +
		item(`{"type":"static","id":"3","staticUrl":"https://cdn/missing.png"}`) +
		item(`{"type":"static","id":"4","staticUrl":"https://cdn/slow.png"}`) +
		"</ul>"

	return map[string][]byte{
		pageURL:              []byte(page),
		"https://cdn/1.png":  static.Bytes(),
		"https://cdn/2a.png": animated.Bytes(),
	}
}

func newServer(t *testing.T, options ...func(*server.Server)) *httptest.Server {
	data := assets(t)
	f := fetcher.Func(func(ctx context.Context, url string) ([]byte, error) {
		if strings.HasSuffix(url, "/slow.png") {
			<-ctx.Done()
			return nil, ctx.Err()
		}

		if body, ok := data[url]; ok {
			return body, nil
		}

		return nil, &fetcher.StatusError{URL: url, Code: http.StatusNotFound}
	})

	r := resolver.New(f, resolver.ConverterFunc(converter.Convert), resolver.NewCache(),
		resolver.Config{FetchTimeout: 50 * time.Millisecond})
	s := session.New(&catalog.Loader{Fetcher: f}, r)

	prometheus := metrics.NewPrometheus()
	srv := &server.Server{
		Session:        s,
		Metrics:        prometheus.WithPrefix("stickerdl"),
		MetricsHandler: prometheus.Handler(),
		PreviewWidth:   100,
	}

	for _, option := range options {
		option(srv)
	}

	return httptest.NewServer(srv.Handler())
}

func load(t *testing.T, base, input string) (*http.Response, map[string]interface{}) {
	resp, err := http.PostForm(base+"/catalog", url.Values{"url": {input}})
	require.Nil(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.Nil(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	resp, err := http.Get(url)
	require.Nil(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	return resp, body
}

func TestServer_Catalog(t *testing.T) {
	ts := newServer(t)
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/catalog")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := load(t, ts.URL, "[Cats] "+pageURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pageURL, body["url"])
	stickers := body["stickers"].([]interface{})
	require.Len(t, stickers, 4)
	assert.Equal(t, map[string]interface{}{
		"index":      1.0,
		"id":         "2",
		"kind":       "animated",
		"source_url": "https://cdn/2a.png",
	}, stickers[1])

	resp, body = load(t, ts.URL, pageURL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.ErrAlreadyLoaded.Error(), body["notice"])

	resp, _ = load(t, ts.URL, "https://store.line.me/missing")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/catalog")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = load(t, ts.URL, "  ")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/catalog")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_LoadJSON(t *testing.T) {
	ts := newServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/catalog", "application/json", strings.NewReader(`{"url":"`+pageURL+`"}`))
	require.Nil(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Stickers(t *testing.T) {
	ts := newServer(t)
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/stickers/0")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = load(t, ts.URL, pageURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, ts.URL+"/stickers/0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="sticker_1.png"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "original", resp.Header.Get("X-Sticker-Status"))
	assert.Equal(t, assets(t)["https://cdn/1.png"], body)

	resp, body = get(t, ts.URL+"/stickers/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="sticker_2.gif"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "gif", resp.Header.Get("X-Sticker-Status"))
	frames, _, _, err := converter.Summary(body)
	require.Nil(t, err)
	assert.Equal(t, 2, frames)

	resp, _ = get(t, ts.URL+"/stickers/2")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/stickers/3")
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	for _, index := range []string{"4", "-1", "first"} {
		resp, _ = get(t, ts.URL+"/stickers/"+index)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, index)
	}

	resp, body = get(t, ts.URL+"/stickers/1/preview")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	thumbnail, err := png.Decode(bytes.NewReader(body))
	require.Nil(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), thumbnail.Bounds())

	resp, body = get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `stickerdl_catalog_loads{result="ok"} 1`)
	assert.Contains(t, string(body), `stickerdl_catalog_size 4`)
}

func TestServer_History(t *testing.T) {
	ts := newServer(t)
	resp, _ := get(t, ts.URL+"/history")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := storage.NewTestDatabase(t)
	defer db.Close()
	require.Nil(t, db.Init(ctx))

	ts = newServer(t, func(srv *server.Server) { srv.Storage = db.SQL })
	defer ts.Close()

	resp, _ = load(t, ts.URL, pageURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, ts.URL+"/history?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		Items []struct {
			ID       string `json:"id"`
			URL      string `json:"url"`
			Stickers int    `json:"stickers"`
		} `json:"items"`
	}

	require.Nil(t, json.Unmarshal(body, &history))
	require.Len(t, history.Items, 1)
	assert.Equal(t, pageURL, history.Items[0].URL)
	assert.Equal(t, 4, history.Items[0].Stickers)

	resp, body = get(t, ts.URL+"/history/"+history.Items[0].ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var archived struct {
		Stickers []map[string]interface{} `json:"stickers"`
	}

	require.Nil(t, json.Unmarshal(body, &archived))
	require.Len(t, archived.Stickers, 4)
	assert.Equal(t, "animated", archived.Stickers[1]["kind"])
	assert.Equal(t, "https://cdn/2a.png", archived.Stickers[1]["source_url"])

	resp, _ = get(t, ts.URL+"/history/not-an-id")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
