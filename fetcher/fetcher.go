// Package fetcher implements the transport used to download catalog pages and assets.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Fetcher downloads the resource at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, url string) ([]byte, error)

func (f Func) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// StatusError is returned for responses outside of the 2xx range.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type HTTP struct {
	Client        *http.Client
	UserAgent     string
	Retries       int
	RetryInterval time.Duration
	MaxSize       int64
	Log           logrus.FieldLogger
}

const DefaultMaxSize = 32 << 20

func (h *HTTP) Fetch(ctx context.Context, url string) ([]byte, error) {
	tries := h.Retries
	if tries < 1 {
		tries = 1
	}

	interval := h.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	return backoff.Retry(ctx, func() ([]byte, error) {
		data, err := h.get(ctx, url)
		if err == nil {
			return data, nil
		}

		var status *StatusError
		if errors.As(err, &status) && !status.Temporary() {
			return nil, backoff.Permanent(err)
		}

		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}

		return nil, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.log().WithField("url", url).Debugf("retry in %s: %s", next, err)
		}))
}

func (h *HTTP) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}

	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}

	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	maxSize := h.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	if int64(len(data)) > maxSize {
		return nil, backoff.Permanent(errors.Errorf("body exceeds %d bytes", maxSize))
	}

	return data, nil
}

func (h *HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}

	return http.DefaultClient
}

func (h *HTTP) log() logrus.FieldLogger {
	if h.Log != nil {
		return h.Log
	}

	return logrus.StandardLogger()
}
