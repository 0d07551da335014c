package catalog_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stickerdl/catalog"
	"stickerdl/fetcher"
)

func item(class, preview string) string {
	return fmt.Sprintf(`<li class="%s" data-preview='%s'><span></span></li>`, class, preview)
}

func page(items ...string) string {
	return "<html><body><ul>" + strings.Join(items, "\n") + "</ul></body></html>"
}

const itemClass = "mdCMN09Li FnStickerPreviewItem"

func TestExtract_ProductPage(t *testing.T) {
	file, err := os.Open("testdata/product.html")
	require.Nil(t, err)
	defer file.Close()

	c, warnings, err := catalog.Extract(file)
	require.Nil(t, err)
	assert.Equal(t, catalog.Catalog{
		{ID: "501", Kind: catalog.Animated, SourceURL: "https://stickershop.line-scdn.net/stickershop/v1/sticker/501/iPhone/sticker_animation@2x.png"},
		{ID: "502", Kind: catalog.Animated, SourceURL: "https://stickershop.line-scdn.net/stickershop/v1/sticker/502/iPhone/sticker_animation@2x.png"},
		{ID: "503", Kind: catalog.Static, SourceURL: "https://stickershop.line-scdn.net/stickershop/v1/sticker/503/android/sticker.png"},
	}, c)

	require.Len(t, warnings, 1)
	assert.Equal(t, catalog.EntryParse, warnings[0].Kind)
	assert.Equal(t, 3, warnings[0].Position)
}

func TestExtract_DistinctIDsInFirstOccurrenceOrder(t *testing.T) {
	ids := []string{"7", "3", "7", "9", "3", "1", "9"}
	items := make([]string, len(ids))
	for i, id := range ids {
		items[i] = item(itemClass, fmt.Sprintf(`{"type":"static","id":"%s","staticUrl":"https://example.com/%d.png"}`, id, i))
	}

	c, warnings, err := catalog.Extract(strings.NewReader(page(items...)))
	require.Nil(t, err)
	assert.Empty(t, warnings)
	require.Len(t, c, 4)
	assert.Equal(t, []string{"7", "3", "9", "1"}, []string{c[0].ID, c[1].ID, c[2].ID, c[3].ID})
	assert.Equal(t, "https://example.com/0.png", c[0].SourceURL)
	assert.Equal(t, "https://example.com/5.png", c[3].SourceURL)
}

func TestExtract_DuplicateAnimatedID(t *testing.T) {
	markup := page(
		item(itemClass, `{"type":"animation","id":"42","animationUrl":"https://example.com/42/anim.png","staticUrl":"https://example.com/42/static.png"}`),
		item(itemClass, `{"type":"static","id":"42","staticUrl":"https://example.com/42/other.png"}`),
	)

	c, _, err := catalog.Extract(strings.NewReader(markup))
	require.Nil(t, err)
	assert.Equal(t, catalog.Catalog{{ID: "42", Kind: catalog.Animated, SourceURL: "https://example.com/42/anim.png"}}, c)
}

func TestExtract_NoPreviewItems(t *testing.T) {
	c, warnings, err := catalog.Extract(strings.NewReader(`<html><body><li class="other">x</li></body></html>`))
	assert.NotNil(t, c)
	assert.Empty(t, c)
	assert.Empty(t, warnings)

	var extractionErr *catalog.ExtractionError
	require.True(t, errors.As(err, &extractionErr))
	assert.Equal(t, catalog.NoPreviewItems, extractionErr.Reason)
}

func TestExtract_FallbackSelector(t *testing.T) {
	markup := page(item("mdCMN09Li", `{"type":"static","id":"1","staticUrl":"https://example.com/1.png"}`))
	c, _, err := catalog.Extract(strings.NewReader(markup))
	require.Nil(t, err)
	require.Len(t, c, 1)
	assert.Equal(t, "1", c[0].ID)

	// layout items without a preview are not sticker items
	nav := `<li class="mdCMN09Li"><a href="/stickershop">Shop</a></li>`
	c, warnings, err := catalog.Extract(strings.NewReader(page(nav, nav)))
	assert.Empty(t, c)
	assert.Empty(t, warnings)
	var extractionErr *catalog.ExtractionError
	require.True(t, errors.As(err, &extractionErr))
	assert.Equal(t, catalog.NoPreviewItems, extractionErr.Reason)

	c, _, err = catalog.Extract(strings.NewReader(page(nav, item("mdCMN09Li", `{"id":"2","staticUrl":"https://example.com/2.png"}`), nav)))
	require.Nil(t, err)
	assert.Equal(t, catalog.Catalog{{ID: "2", Kind: catalog.Static, SourceURL: "https://example.com/2.png"}}, c)
}

func TestExtract_KindDerivation(t *testing.T) {
	markup := page(
		// animation without animation url degrades to static
		item(itemClass, `{"type":"animation","id":"1","staticUrl":"https://example.com/1.png"}`),
		// type is case-insensitive
		item(itemClass, `{"type":"ANIMATION","id":"2","animationUrl":"https://example.com/2a.png","staticUrl":"https://example.com/2.png"}`),
		// missing type means static
		item(itemClass, `{"id":3,"animationUrl":"https://example.com/3a.png","staticUrl":"https://example.com/3.png"}`),
		// no static url and not animated is unusable
		item(itemClass, `{"type":"static","id":"4"}`),
		// no id is unusable
		item(itemClass, `{"type":"static","staticUrl":"https://example.com/5.png"}`),
		// not an object
		item(itemClass, `["type","static"]`),
	)

	c, warnings, err := catalog.Extract(strings.NewReader(markup))
	require.Nil(t, err)
	assert.Equal(t, catalog.Catalog{
		{ID: "1", Kind: catalog.Static, SourceURL: "https://example.com/1.png"},
		{ID: "2", Kind: catalog.Animated, SourceURL: "https://example.com/2a.png"},
		{ID: "3", Kind: catalog.Static, SourceURL: "https://example.com/3.png"},
	}, c)

	require.Len(t, warnings, 3)
	assert.Equal(t, catalog.EntryUnusable, warnings[0].Kind)
	assert.Equal(t, 3, warnings[0].Position)
	assert.Equal(t, catalog.EntryUnusable, warnings[1].Kind)
	assert.Equal(t, catalog.EntryParse, warnings[2].Kind)
}

func TestExtract_NoUsableEntries(t *testing.T) {
	markup := page(item(itemClass, `{ nope`), item(itemClass, `{"id":"1"}`))
	c, warnings, err := catalog.Extract(strings.NewReader(markup))
	assert.Empty(t, c)
	assert.Len(t, warnings, 2)

	var extractionErr *catalog.ExtractionError
	require.True(t, errors.As(err, &extractionErr))
	assert.Equal(t, catalog.NoUsableEntries, extractionErr.Reason)
}

func TestDedup_Idempotent(t *testing.T) {
	c := catalog.Catalog{
		{ID: "a", SourceURL: "1"},
		{ID: "b", SourceURL: "2"},
		{ID: "a", SourceURL: "3"},
		{ID: "c", SourceURL: "4"},
		{ID: "b", SourceURL: "5"},
	}

	once := catalog.Dedup(c)
	assert.Equal(t, catalog.Catalog{{ID: "a", SourceURL: "1"}, {ID: "b", SourceURL: "2"}, {ID: "c", SourceURL: "4"}}, once)
	assert.Equal(t, once, catalog.Dedup(once))
}

func TestLoader_Load(t *testing.T) {
	markup, err := os.ReadFile("testdata/product.html")
	require.Nil(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stickershop/product/30397660/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		_, _ = w.Write(markup)
	}))
	defer server.Close()

	loader := &catalog.Loader{Fetcher: &fetcher.HTTP{Retries: 1}}

	c, warnings, err := loader.Load(context.Background(), server.URL+"/stickershop/product/30397660/")
	require.Nil(t, err)
	assert.Len(t, c, 3)
	assert.Len(t, warnings, 1)

	c, _, err = loader.Load(context.Background(), server.URL+"/missing")
	assert.Empty(t, c)

	var extractionErr *catalog.ExtractionError
	require.True(t, errors.As(err, &extractionErr))
	assert.Equal(t, catalog.PageFetch, extractionErr.Reason)
	assert.Equal(t, server.URL+"/missing", extractionErr.URL)

	var status *fetcher.StatusError
	assert.True(t, errors.As(err, &status))
}

func TestParseKind(t *testing.T) {
	kind, err := catalog.ParseKind("animation")
	assert.Nil(t, err)
	assert.Equal(t, catalog.Animated, kind)
	kind, err = catalog.ParseKind("Static")
	assert.Nil(t, err)
	assert.Equal(t, catalog.Static, kind)
	_, err = catalog.ParseKind("video")
	assert.Error(t, err)
}
