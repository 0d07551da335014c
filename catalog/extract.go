package catalog

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

const previewAttr = "data-preview"

var (
	// The store has shipped preview items under both class layouts.
	primarySelector  = cascadia.MustCompile("li.FnStickerPreviewItem")
	fallbackSelector = cascadia.MustCompile("li.mdCMN09Li[data-preview]")
)

type preview struct {
	ID           json.RawMessage `json:"id"`
	Type         string          `json:"type"`
	AnimationURL string          `json:"animationUrl"`
	StaticURL    string          `json:"staticUrl"`
}

// Extract parses markup and returns the deduplicated catalog in document order
// along with warnings for skipped entries. The returned error is always an
// *ExtractionError.
func Extract(markup io.Reader) (Catalog, []Warning, error) {
	doc, err := html.Parse(markup)
	if err != nil {
		return Catalog{}, nil, &ExtractionError{Reason: NoPreviewItems, Err: errors.Wrap(err, "parse markup")}
	}

	items := cascadia.QueryAll(doc, primarySelector)
	if len(items) == 0 {
		items = cascadia.QueryAll(doc, fallbackSelector)
	}

	if len(items) == 0 {
		return Catalog{}, nil, &ExtractionError{Reason: NoPreviewItems}
	}

	var (
		catalog  = make(Catalog, 0, len(items))
		warnings []Warning
		seen     = make(map[string]bool, len(items))
	)

	for i, item := range items {
		data, ok := attr(item, previewAttr)
		if !ok || strings.TrimSpace(data) == "" {
			continue
		}

		d, err := describe(data)
		if err != nil {
			kind := EntryUnusable
			if _, ok := errors.Cause(err).(*json.SyntaxError); ok {
				kind = EntryParse
			} else if _, ok := errors.Cause(err).(*json.UnmarshalTypeError); ok {
				kind = EntryParse
			}

			warnings = append(warnings, Warning{Kind: kind, Position: i, Preview: data, Err: err})
			continue
		}

		if seen[d.ID] {
			continue
		}

		seen[d.ID] = true
		catalog = append(catalog, d)
	}

	if len(catalog) == 0 {
		return catalog, warnings, &ExtractionError{Reason: NoUsableEntries}
	}

	return catalog, warnings, nil
}

func describe(data string) (Descriptor, error) {
	var p preview
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Descriptor{}, errors.Wrap(err, "decode "+previewAttr)
	}

	id, err := normalizeID(p.ID)
	if err != nil {
		return Descriptor{}, err
	}

	if strings.EqualFold(p.Type, "animation") && p.AnimationURL != "" {
		return Descriptor{ID: id, SourceURL: p.AnimationURL, Kind: Animated}, nil
	}

	if p.StaticURL == "" {
		return Descriptor{}, errors.New("no static url")
	}

	return Descriptor{ID: id, SourceURL: p.StaticURL, Kind: Static}, nil
}

func normalizeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("no id")
	}

	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", errors.Wrap(err, "decode id")
		}

		if id == "" {
			return "", errors.New("empty id")
		}

		return id, nil
	}

	return string(raw), nil
}

func attr(node *html.Node, key string) (string, bool) {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}

	return "", false
}
