// Package resolver downloads sticker assets and converts animated ones to GIF.
//
// Resolved assets are kept in a Cache keyed by source URL, kind and catalog
// index. Concurrent requests for the same key share a single download.
package resolver

import (
	"fmt"

	"stickerdl/catalog"
)

type Status int

const (
	OriginalFormat Status = iota
	ConvertedToGif
	ConversionFailedFallback
)

func (s Status) String() string {
	switch s {
	case ConvertedToGif:
		return "gif"
	case ConversionFailedFallback:
		return "fallback"
	default:
		return "original"
	}
}

type ResolvedAsset struct {
	Data     []byte
	FileName string
	MIMEType string
	Status   Status
}

type Reason int

const (
	Network Reason = iota
	Timeout
)

func (r Reason) String() string {
	if r == Timeout {
		return "timeout"
	}

	return "network"
}

type ResolutionError struct {
	Reason Reason
	Index  int
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve sticker %d: %s: %s", e.Index+1, e.Reason, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

type Key struct {
	SourceURL string
	Kind      catalog.Kind
	Index     int
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%s", k.Index, k.Kind, k.SourceURL)
}

// FileName returns the download name of the sticker at zero-based index.
func FileName(index int, ext string) string {
	return fmt.Sprintf("sticker_%d.%s", index+1, ext)
}

type Result struct {
	Index int
	Asset *ResolvedAsset
	Err   error
}
