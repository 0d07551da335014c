package catalog

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"

	"stickerdl/fetcher"
)

// Loader downloads a product page and extracts its catalog.
type Loader struct {
	Fetcher fetcher.Fetcher
	Log     logrus.FieldLogger
}

func (l *Loader) Load(ctx context.Context, url string) (Catalog, []Warning, error) {
	log := l.log().WithField("url", url)
	page, err := l.Fetcher.Fetch(ctx, url)
	if err != nil {
		log.Errorf("catalog: fetch page: %s", err)
		return Catalog{}, nil, &ExtractionError{Reason: PageFetch, URL: url, Err: err}
	}

	catalog, warnings, err := Extract(bytes.NewReader(page))
	for _, warning := range warnings {
		log.WithField("preview", warning.Preview).Warnf("catalog: %s", warning)
	}

	if err != nil {
		if extractionErr, ok := err.(*ExtractionError); ok {
			extractionErr.URL = url
		}

		log.Errorf("catalog: %s", err)
		return catalog, warnings, err
	}

	log.Infof("catalog: loaded %d stickers", len(catalog))
	return catalog, warnings, nil
}

func (l *Loader) log() logrus.FieldLogger {
	if l.Log != nil {
		return l.Log
	}

	return logrus.StandardLogger()
}
