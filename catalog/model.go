// Package catalog extracts sticker descriptors from LINE Store product pages.
package catalog

import (
	"fmt"
	"strings"
)

type Kind int

const (
	Static Kind = iota
	Animated
)

func (k Kind) String() string {
	switch k {
	case Animated:
		return "animated"
	default:
		return "static"
	}
}

func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(value) {
	case "static":
		return Static, nil
	case "animated", "animation":
		return Animated, nil
	default:
		return Static, fmt.Errorf("unknown kind: %s", value)
	}
}

type Descriptor struct {
	ID        string
	SourceURL string
	Kind      Kind
}

// Catalog is an ordered list of descriptors with unique IDs.
type Catalog []Descriptor

// Dedup drops descriptors whose ID has already been seen, keeping document order.
func Dedup(catalog Catalog) Catalog {
	seen := make(map[string]bool, len(catalog))
	unique := make(Catalog, 0, len(catalog))
	for _, d := range catalog {
		if seen[d.ID] {
			continue
		}

		seen[d.ID] = true
		unique = append(unique, d)
	}

	return unique
}

type WarningKind int

const (
	EntryParse WarningKind = iota
	EntryUnusable
)

func (k WarningKind) String() string {
	if k == EntryParse {
		return "parse"
	}

	return "unusable"
}

// Warning describes a preview element that was skipped.
type Warning struct {
	Kind     WarningKind
	Position int
	Preview  string
	Err      error
}

func (w Warning) Error() string {
	return fmt.Sprintf("preview item %d (%s): %s", w.Position, w.Kind, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

type Reason int

const (
	PageFetch Reason = iota
	NoPreviewItems
	NoUsableEntries
)

func (r Reason) String() string {
	switch r {
	case PageFetch:
		return "page fetch failed"
	case NoPreviewItems:
		return "no sticker preview items found"
	default:
		return "no usable stickers found"
	}
}

// ExtractionError is a terminal failure of a catalog load.
type ExtractionError struct {
	Reason Reason
	URL    string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := e.Reason.String()
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
