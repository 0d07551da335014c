package fetcher

import (
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// NewClient creates an HTTP client with sane transport timeouts.
// Requests are logged at debug level when log is not nil.
func NewClient(timeout time.Duration, log logrus.FieldLogger) *http.Client {
	var roundTripper http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: time.Minute,
	}

	if log != nil {
		roundTripper = &Logging{RoundTripper: roundTripper, Log: log}
	}

	return &http.Client{
		Transport: roundTripper,
		Timeout:   timeout,
	}
}

var requestID uint64

// Logging logs requests and responses without bodies.
type Logging struct {
	http.RoundTripper
	Log logrus.FieldLogger
}

func (t *Logging) RoundTrip(req *http.Request) (*http.Response, error) {
	id := strconv.FormatUint(atomic.AddUint64(&requestID, 1), 10)
	log := t.Log.WithField("id", id)
	log.Debugf("%s > %s", req.Method, req.URL)

	start := time.Now()
	resp, err := t.RoundTripper.RoundTrip(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Warnf("%s < %s (%d ms): %s", req.Method, req.URL, duration, err)
		return nil, err
	}

	log.WithField("content_type", resp.Header.Get("Content-Type")).
		Debugf("%s < %s %d (%d ms)", req.Method, req.URL, resp.StatusCode, duration)
	return resp, nil
}
