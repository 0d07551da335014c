package app

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"stickerdl/catalog"
	"stickerdl/logx"
	"stickerdl/resolver"
	"stickerdl/session"
)

// Report describes the outcome for a single sticker of a fetched catalog.
type Report struct {
	Index   int
	ID      string
	Path    string
	Status  resolver.Status
	Skipped bool
	Err     error
}

func (r Report) Caption() string {
	switch {
	case r.Err != nil:
		return "error: " + r.Err.Error()
	case r.Skipped:
		return "duplicate, skipped"
	}

	return Caption(r.Status)
}

// Caption returns the human readable label for an asset status.
func Caption(status resolver.Status) string {
	switch status {
	case resolver.ConvertedToGif:
		return "converted to GIF"
	case resolver.ConversionFailedFallback:
		return "conversion failed, original PNG"
	default:
		return "original PNG"
	}
}

func (r Report) String() string {
	name := r.Path
	if name == "" {
		name = resolver.FileName(r.Index, "?")
	}

	return fmt.Sprintf("%3d. %s (%s)", r.Index+1, name, r.Caption())
}

// Fetch loads the catalog at input, resolves every sticker and writes the
// assets into a per-product directory under the configured output directory.
func (app *Instance) Fetch(ctx context.Context, input string) (string, []Report, error) {
	log := logx.Get("fetch")
	sess := app.GetSession()
	c, _, err := sess.LoadCatalog(ctx, input)
	switch {
	case errors.Is(err, session.ErrAlreadyLoaded):
	case err != nil:
		return "", nil, err
	}

	pageURL, _, _ := sess.Catalog()
	dir := filepath.Join(app.config.Output.Dir, Directory(pageURL))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, errors.Wrap(err, "create output directory")
	}

	var dedup duplicateChecker

	if app.config.Output.SkipDuplicates {
		d, err := app.GetDeduplicator(ctx)
		if err != nil {
			return "", nil, errors.Wrap(err, "get deduplicator")
		}

		dedup = d
	}

	results := app.GetResolver().ResolveAll(ctx, c)
	reports := make([]Report, len(results))
	for i, result := range results {
		report := Report{Index: result.Index, ID: c[i].ID, Err: result.Err}
		if result.Err == nil {
			report.Status = result.Asset.Status
			report.Err = app.write(ctx, dir, c[i], result.Asset, dedup, &report)
		}

		if report.Err != nil {
			log.WithField("sticker", report.ID).Warnf("fetch: %s", report.Err)
		}

		reports[i] = report
	}

	db, err := app.GetStorage(ctx)
	if err != nil {
		return dir, reports, errors.Wrap(err, "get storage")
	}

	if db != nil {
		if _, err := db.SaveCatalog(ctx, pageURL, c, results); err != nil {
			return dir, reports, errors.Wrap(err, "archive catalog")
		}
	}

	return dir, reports, nil
}

type duplicateChecker interface {
	Check(ctx context.Context, url, mimeType string, data []byte) (bool, error)
}

func (app *Instance) write(ctx context.Context, dir string, d catalog.Descriptor, asset *resolver.ResolvedAsset, dedup duplicateChecker, report *Report) error {
	if dedup != nil {
		ok, err := dedup.Check(ctx, d.SourceURL, asset.MIMEType, asset.Data)
		if err != nil {
			return errors.Wrap(err, "check duplicate")
		}

		if !ok {
			report.Skipped = true
			return nil
		}
	}

	path := filepath.Join(dir, asset.FileName)
	if err := os.WriteFile(path, asset.Data, 0o644); err != nil {
		return errors.Wrap(err, "write file")
	}

	report.Path = path
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Directory derives an output directory name from a product page URL.
// The segment following "product" is used when present.
func Directory(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "stickers"
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	name := ""
	for i, segment := range segments {
		if segment == "product" && i+1 < len(segments) {
			name = segments[i+1]
			break
		}
	}

	if name == "" && len(segments) > 0 {
		name = segments[len(segments)-1]
	}

	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "stickers"
	}

	return name
}
